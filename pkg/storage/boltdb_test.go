package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadTopologyEmptyReturnsFreshTopology(t *testing.T) {
	store := openTestStore(t)
	topo, err := store.LoadTopology()
	require.NoError(t, err)
	assert.True(t, topo.IsEmpty())
	assert.NoError(t, topo.CheckInvariants())
}

func TestSaveAndLoadTopologyRoundTrips(t *testing.T) {
	store := openTestStore(t)

	topo := topology.New()
	topo.Version = 7
	topo.FenceVersion = 6
	topo.SessionID = uuid.New()
	topo.NormalNodes["n1"] = &topology.ReplicaRecord{
		ID:                "n1",
		State:             topology.NodeStateNormal,
		Datacenter:        "dc1",
		Ring:              &topology.RingSlice{Tokens: []topology.Token{1, 2, 3}},
		SupportedFeatures: map[string]struct{}{"f1": {}},
	}
	topo.NewNodes["n2"] = &topology.ReplicaRecord{ID: "n2", State: topology.NodeStateNone}
	topo.LeftNodes["n3"] = struct{}{}
	topo.Requests["n2"] = topology.RequestJoin
	topo.ReqParams["n2"] = topology.ReqParam{Kind: topology.RequestJoin, Join: &topology.JoinParams{NumTokens: 8}}
	topo.EnabledFeatures["f1"] = struct{}{}

	require.NoError(t, store.SaveTopology(topo))

	loaded, err := store.LoadTopology()
	require.NoError(t, err)

	assert.Equal(t, topo.Version, loaded.Version)
	assert.Equal(t, topo.FenceVersion, loaded.FenceVersion)
	assert.Equal(t, topo.SessionID, loaded.SessionID)
	require.Contains(t, loaded.NormalNodes, topology.NodeID("n1"))
	assert.Equal(t, []topology.Token{1, 2, 3}, loaded.NormalNodes["n1"].Ring.Tokens)
	require.Contains(t, loaded.NewNodes, topology.NodeID("n2"))
	assert.Contains(t, loaded.LeftNodes, topology.NodeID("n3"))
	require.Contains(t, loaded.ReqParams, topology.NodeID("n2"))
	assert.Equal(t, 8, loaded.ReqParams["n2"].Join.NumTokens)
	assert.Contains(t, loaded.EnabledFeatures, "f1")
	assert.NoError(t, loaded.CheckInvariants())
}

func TestSaveTopologyOverwritesPreviousNodeRows(t *testing.T) {
	store := openTestStore(t)

	first := topology.New()
	first.NormalNodes["stale"] = &topology.ReplicaRecord{
		ID:    "stale",
		State: topology.NodeStateNormal,
		Ring:  &topology.RingSlice{Tokens: []topology.Token{1}},
	}
	require.NoError(t, store.SaveTopology(first))

	second := topology.New()
	second.NormalNodes["fresh"] = &topology.ReplicaRecord{
		ID:    "fresh",
		State: topology.NodeStateNormal,
		Ring:  &topology.RingSlice{Tokens: []topology.Token{2}},
	}
	require.NoError(t, store.SaveTopology(second))

	loaded, err := store.LoadTopology()
	require.NoError(t, err)
	assert.NotContains(t, loaded.NormalNodes, topology.NodeID("stale"))
	assert.Contains(t, loaded.NormalNodes, topology.NodeID("fresh"))
}

func TestCDCGenerationLifecycle(t *testing.T) {
	store := openTestStore(t)
	genID := uuid.New()

	_, err := store.GetCDCGeneration(genID)
	assert.ErrorIs(t, err, ErrNotFound)

	ranges := []CDCGenerationRange{
		{StartToken: 0, EndToken: 100, Data: []byte("a")},
		{StartToken: 100, EndToken: 200, Data: []byte("b")},
	}
	require.NoError(t, store.SaveCDCGeneration(genID, ranges))

	got, err := store.GetCDCGeneration(genID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, store.DeleteCDCGeneration(genID))
	_, err = store.GetCDCGeneration(genID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestStatusLifecycle(t *testing.T) {
	store := openTestStore(t)
	reqID := uuid.New()

	_, err := store.GetRequestStatus(reqID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveRequestStatus(RequestStatus{RequestID: reqID, Done: false}))
	status, err := store.GetRequestStatus(reqID)
	require.NoError(t, err)
	assert.False(t, status.Done)
	assert.Empty(t, status.Error)

	require.NoError(t, store.SaveRequestStatus(RequestStatus{RequestID: reqID, Done: true, Error: "stream_failed"}))
	status, err = store.GetRequestStatus(reqID)
	require.NoError(t, err)
	assert.True(t, status.Done)
	assert.Equal(t, "stream_failed", status.Error)
}
