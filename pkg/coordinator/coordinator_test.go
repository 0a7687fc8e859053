package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/coordinator/rpc"
	"github.com/ringtopo/ringtopo/pkg/gossip"
	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/streaming"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// newJoiningManager constructs and starts (via Join, not Bootstrap) a
// second real raft-backed Manager that is not yet part of any cluster
// configuration, the state a node is in immediately before the leader
// calls add_voter against it.
func newJoiningManager(t *testing.T, nodeID string) (*manager.Manager, string) {
	t.Helper()
	addr := freePort(t)
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: addr,
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Join())
	t.Cleanup(func() { _ = mgr.Shutdown() })
	return mgr, addr
}

// registerNode wires a node's Manager into the shared gossip hub and
// local RPC registry, so the leader's Coordinator can resolve its
// address, dial it, and wait_for_ip it the same way it would over a
// real network.
func registerNode(hub *gossip.Hub, registry *rpc.LocalRegistry, id topology.NodeID, addr string, mgr *manager.Manager) {
	hub.SetAddress(id, addr)
	srv := rpc.NewServer(rpc.ServerConfig{
		Fencing:    mgr.Fencing(),
		Streaming:  streaming.NewLocal(),
		Addresses:  hub,
		Snapshot:   mgr,
		WaitBudget: 2 * time.Second,
	})
	registry.Register(addr, srv)
}

// TestCoordinatorDrivesJoinToNormal exercises scenario S1 (fresh node
// join) end to end: a real two-voter Raft cluster, a leader-side
// Coordinator, and an in-process RPC registry standing in for the
// network.
func TestCoordinatorDrivesJoinToNormal(t *testing.T) {
	leader := newBootstrappedManager(t, "n1")
	joiner, joinerAddr := newJoiningManager(t, "n2")

	hub := gossip.NewHub()
	registry := rpc.NewLocalRegistry()
	registerNode(hub, registry, "n2", joinerAddr, joiner)

	coord := New(Config{
		Manager:   leader,
		Addresses: hub,
		Dialer:    registry,
		Streaming: streaming.NewLocal(),
		Interval:  20 * time.Millisecond,
	})
	coord.Start()
	defer coord.Stop()

	_, err := coord.SubmitJoin("n2", NewNodeSpec{
		Datacenter: "dc1",
		Rack:       "rack1",
		ShardCount: 1,
	}, 4)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		topo := leader.Topology()
		record, ok := topo.NormalNodes["n2"]
		return ok && record.State == topology.NodeStateNormal
	}, 10*time.Second, 20*time.Millisecond, "node never reached normal")

	topo := leader.Topology()
	assert.Nil(t, topo.TState)
	assert.Empty(t, topo.TransitionNodes)
	assert.NotNil(t, topo.NormalNodes["n2"].Ring)
	assert.Len(t, topo.NormalNodes["n2"].Ring.Tokens, 4)
}

// TestCoordinatorRejectsDoubleSubmission covers acceptRequest's busy
// guard: a second join submitted for a node that already has one
// pending is rejected rather than silently queued twice.
func TestCoordinatorRejectsDoubleSubmission(t *testing.T) {
	leader := newBootstrappedManager(t, "n1")
	joiner, joinerAddr := newJoiningManager(t, "n2")

	hub := gossip.NewHub()
	registry := rpc.NewLocalRegistry()
	registerNode(hub, registry, "n2", joinerAddr, joiner)

	coord := New(Config{
		Manager:   leader,
		Addresses: hub,
		Dialer:    registry,
		Streaming: streaming.NewLocal(),
	})

	_, err := coord.SubmitJoin("n2", NewNodeSpec{Datacenter: "dc1"}, 4)
	require.NoError(t, err)

	_, err = coord.SubmitJoin("n2", NewNodeSpec{Datacenter: "dc1"}, 4)
	assert.ErrorIs(t, err, topology.ErrBusy)
}

// TestCoordinatorSubmitRejectsWhenNotLeader covers the non-leader guard
// shared by every Submit* method.
func TestCoordinatorSubmitRejectsWhenNotLeader(t *testing.T) {
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "n1",
		BindAddr: freePort(t),
		DataDir:  t.TempDir(),
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Join())
	t.Cleanup(func() { _ = mgr.Shutdown() })

	coord := New(Config{
		Manager:   mgr,
		Addresses: gossip.NewHub(),
		Dialer:    rpc.NewLocalRegistry(),
		Streaming: streaming.NewLocal(),
	})

	_, err = coord.SubmitJoin("n2", NewNodeSpec{}, 4)
	assert.ErrorIs(t, err, topology.ErrNotLeader)
}
