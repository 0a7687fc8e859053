package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/gossip"
	"github.com/ringtopo/ringtopo/pkg/storage"
	"github.com/ringtopo/ringtopo/pkg/streaming"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

type fakeWaiter struct {
	err error
}

func (f fakeWaiter) Check(ctx context.Context, token uint64, wait time.Duration) error {
	return f.err
}

type fakeSnapshotSource struct {
	topo         *topology.Topology
	generations  map[uuid.UUID][]storage.CDCGenerationRange
	requests     []storage.RequestStatus
	err          error
}

func (f fakeSnapshotSource) SnapshotBundle() (*topology.Topology, map[uuid.UUID][]storage.CDCGenerationRange, []storage.RequestStatus, error) {
	return f.topo, f.generations, f.requests, f.err
}

func newTestServer(t *testing.T) (*Server, *streaming.Local, *gossip.Hub) {
	t.Helper()
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:    fakeWaiter{},
		Streaming:  streamer,
		Addresses:  hub,
		Snapshot:   fakeSnapshotSource{topo: topology.New()},
		WaitBudget: time.Second,
	})
	return srv, streamer, hub
}

func TestServerBarrierSuccess(t *testing.T) {
	srv, _, _ := newTestServer(t)
	reply, err := srv.Barrier(context.Background(), &BarrierRequest{TopologyVersion: 1})
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

func TestServerBarrierRejectsOnWaiterError(t *testing.T) {
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:   fakeWaiter{err: topology.ErrStaleTopology},
		Streaming: streamer,
		Addresses: hub,
		Snapshot:  fakeSnapshotSource{topo: topology.New()},
	})
	reply, err := srv.Barrier(context.Background(), &BarrierRequest{TopologyVersion: 1})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, topology.ErrStaleTopology.Error(), reply.Reason)
}

func TestServerBarrierAndDrainRejectsOnWaiterError(t *testing.T) {
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:   fakeWaiter{err: topology.ErrStaleTopology},
		Streaming: streamer,
		Addresses: hub,
		Snapshot:  fakeSnapshotSource{topo: topology.New()},
	})
	reply, err := srv.BarrierAndDrain(context.Background(), &BarrierAndDrainRequest{TopologyVersion: 1, FenceVersion: 1})
	require.NoError(t, err)
	assert.False(t, reply.Success)
}

func TestServerStreamRangesDrivesStreamingCollaborator(t *testing.T) {
	srv, streamer, _ := newTestServer(t)
	reply, err := srv.StreamRanges(context.Background(), &StreamRangesRequest{
		NodeID:    "n1",
		Direction: string(streaming.DirectionInbound),
		SessionID: uuid.New(),
	})
	require.NoError(t, err)
	assert.True(t, reply.Success)

	plans := streamer.Plans()
	require.Len(t, plans, 1)
	assert.Equal(t, topology.NodeID("n1"), plans[0].NodeID)
}

func TestServerStreamRangesPropagatesFailure(t *testing.T) {
	srv, streamer, _ := newTestServer(t)
	streamer.FailNext("n1", topology.ErrStreamFailed)

	reply, err := srv.StreamRanges(context.Background(), &StreamRangesRequest{NodeID: "n1"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, topology.ErrStreamFailed.Error(), reply.Reason)
}

func TestServerWaitForIPReturnsImmediatelyWhenKnown(t *testing.T) {
	srv, _, hub := newTestServer(t)
	hub.SetAddress("n1", "10.0.0.1:7000")

	reply, err := srv.WaitForIP(context.Background(), &WaitForIPRequest{JoiningID: "n1"})
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

func TestServerWaitForIPPollsUntilAddressAppears(t *testing.T) {
	srv, _, hub := newTestServer(t)

	go func() {
		time.Sleep(150 * time.Millisecond)
		hub.SetAddress("n1", "10.0.0.1:7000")
	}()

	reply, err := srv.WaitForIP(context.Background(), &WaitForIPRequest{JoiningID: "n1"})
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

func TestServerWaitForIPTimesOut(t *testing.T) {
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:    fakeWaiter{},
		Streaming:  streamer,
		Addresses:  hub,
		Snapshot:   fakeSnapshotSource{topo: topology.New()},
		WaitBudget: 50 * time.Millisecond,
	})

	reply, err := srv.WaitForIP(context.Background(), &WaitForIPRequest{JoiningID: "ghost"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
}

func TestServerCleanupDefaultsToNoop(t *testing.T) {
	srv, _, _ := newTestServer(t)
	reply, err := srv.Cleanup(context.Background(), &CleanupRequest{TopologyVersion: 1})
	require.NoError(t, err)
	assert.True(t, reply.Success)
}

type failingCleanup struct{}

func (failingCleanup) RunCleanup(ctx context.Context) error {
	return errors.New("compaction failed")
}

func TestServerCleanupPropagatesRunnerError(t *testing.T) {
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:   fakeWaiter{},
		Streaming: streamer,
		Addresses: hub,
		Snapshot:  fakeSnapshotSource{topo: topology.New()},
		Cleanup:   failingCleanup{},
	})
	reply, err := srv.Cleanup(context.Background(), &CleanupRequest{})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, "compaction failed", reply.Reason)
}

func TestServerPullTopologySnapshotAssemblesBundle(t *testing.T) {
	topo := topology.New()
	genID := uuid.New()
	reqID := uuid.New()
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:   fakeWaiter{},
		Streaming: streamer,
		Addresses: hub,
		Snapshot: fakeSnapshotSource{
			topo: topo,
			generations: map[uuid.UUID][]storage.CDCGenerationRange{
				genID: {{StartToken: 1, EndToken: 1, Data: []byte("x")}},
			},
			requests: []storage.RequestStatus{{RequestID: reqID, Done: true}},
		},
	})

	reply, err := srv.PullTopologySnapshot(context.Background(), &PullTopologySnapshotRequest{})
	require.NoError(t, err)
	assert.Same(t, topo, reply.Topology)
	require.Len(t, reply.CDCGenerations, 1)
	assert.Equal(t, genID, reply.CDCGenerations[0].GenerationID)
	require.Len(t, reply.TopologyRequests, 1)
	assert.Equal(t, reqID, reply.TopologyRequests[0].RequestID)
}

func TestServerPullTopologySnapshotPropagatesSourceError(t *testing.T) {
	streamer := streaming.NewLocal()
	hub := gossip.NewHub()
	srv := NewServer(ServerConfig{
		Fencing:   fakeWaiter{},
		Streaming: streamer,
		Addresses: hub,
		Snapshot:  fakeSnapshotSource{err: errors.New("disk error")},
	})
	_, err := srv.PullTopologySnapshot(context.Background(), &PullTopologySnapshotRequest{})
	assert.Error(t, err)
}
