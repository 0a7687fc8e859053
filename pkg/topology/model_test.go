package topology

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalNode(id NodeID, features ...string) *ReplicaRecord {
	set := make(map[string]struct{}, len(features))
	for _, f := range features {
		set[f] = struct{}{}
	}
	return &ReplicaRecord{
		ID:                id,
		State:             NodeStateNormal,
		Ring:              &RingSlice{Tokens: []Token{Token(len(id))}},
		SupportedFeatures: set,
	}
}

func TestFindAcrossCollections(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = normalNode("n1")
	topo.NewNodes["n2"] = &ReplicaRecord{ID: "n2", State: NodeStateNone}
	topo.TransitionNodes["n3"] = &ReplicaRecord{ID: "n3", State: NodeStateBootstrapping}
	topo.LeftNodes["n4"] = struct{}{}

	for _, id := range []NodeID{"n1", "n2", "n3"} {
		r, ok := topo.Find(id)
		require.True(t, ok, "expected to find %s", id)
		assert.Equal(t, id, r.ID)
	}

	_, ok := topo.Find("n4")
	assert.False(t, ok, "left nodes are not findable")
	assert.True(t, topo.Contains("n4"), "left nodes are still contained")
	assert.False(t, topo.Contains("nonexistent"))

	assert.Equal(t, 3, topo.Size())
	assert.False(t, topo.IsEmpty())
}

func TestIsBusy(t *testing.T) {
	topo := New()
	assert.False(t, topo.IsBusy())

	topo.TransitionNodes["n1"] = &ReplicaRecord{ID: "n1", State: NodeStateBootstrapping}
	assert.True(t, topo.IsBusy())

	topo2 := New()
	gr := GlobalRequestCleanup
	topo2.GlobalRequest = &gr
	assert.True(t, topo2.IsBusy())

	topo3 := New()
	ts := TransitionJoinGroup0
	topo3.TState = &ts
	assert.True(t, topo3.IsBusy())
}

func TestExcludedNodesForRemoveAndReplace(t *testing.T) {
	topo := New()
	topo.Requests["dead1"] = RequestRemove
	topo.ReqParams["dead1"] = ReqParam{
		Kind:   RequestRemove,
		Remove: &RemoveParams{IgnoredIDs: map[NodeID]struct{}{"ignored1": {}}},
	}
	topo.Requests["new1"] = RequestReplace
	topo.ReqParams["new1"] = ReqParam{
		Kind: RequestReplace,
		Replace: &ReplaceParams{
			ReplacedID: "dead2",
			IgnoredIDs: map[NodeID]struct{}{"ignored2": {}},
		},
	}

	excluded := topo.ExcludedNodes()
	for _, id := range []NodeID{"dead1", "ignored1", "dead2", "ignored2"} {
		assert.Contains(t, excluded, id)
	}
	assert.NotContains(t, excluded, NodeID("new1"))
}

func TestNotYetEnabledFeatures(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = normalNode("n1", "f1", "f2")
	topo.NormalNodes["n2"] = normalNode("n2", "f1")
	topo.EnabledFeatures["f1"] = struct{}{}

	pending := topo.NotYetEnabledFeatures()
	assert.NotContains(t, pending, "f1", "f1 is already enabled")
	assert.NotContains(t, pending, "f2", "f2 is not supported by n2")
}

func TestCheckInvariantsRejectsDuplicateNodeID(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = normalNode("n1")
	topo.NewNodes["n1"] = &ReplicaRecord{ID: "n1", State: NodeStateNone}

	err := topo.CheckInvariants()
	assert.ErrorContains(t, err, "n1")
}

func TestCheckInvariantsRejectsTstateMismatch(t *testing.T) {
	topo := New()
	ts := TransitionJoinGroup0
	topo.TState = &ts
	// No transition_nodes and no global_request: invariant violated.
	err := topo.CheckInvariants()
	assert.Error(t, err)
}

func TestCheckInvariantsRejectsFenceAboveVersion(t *testing.T) {
	topo := New()
	topo.Version = 3
	topo.FenceVersion = 4
	assert.Error(t, topo.CheckInvariants())
}

func TestCheckInvariantsRejectsUnsupportedEnabledFeature(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = normalNode("n1", "f1")
	topo.EnabledFeatures["f2"] = struct{}{}
	assert.Error(t, topo.CheckInvariants())
}

func TestCheckInvariantsRejectsNormalNodeWithoutRing(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = &ReplicaRecord{ID: "n1", State: NodeStateNormal}
	assert.Error(t, topo.CheckInvariants())
}

func TestCheckInvariantsRejectsMismatchedReqParam(t *testing.T) {
	topo := New()
	topo.Requests["n1"] = RequestJoin
	assert.Error(t, topo.CheckInvariants())

	topo.ReqParams["n1"] = ReqParam{Kind: RequestRebuild, Rebuild: &RebuildParams{}}
	assert.Error(t, topo.CheckInvariants())
}

func TestCheckInvariantsAcceptsWellFormedTopology(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = normalNode("n1", "f1")
	topo.NormalNodes["n2"] = normalNode("n2", "f1")
	topo.EnabledFeatures["f1"] = struct{}{}
	topo.Version = 5
	topo.FenceVersion = 5
	topo.SessionID = uuid.New()
	assert.NoError(t, topo.CheckInvariants())
}

func TestCloneIsIndependent(t *testing.T) {
	topo := New()
	topo.NormalNodes["n1"] = normalNode("n1", "f1")
	topo.Requests["n2"] = RequestJoin
	topo.ReqParams["n2"] = ReqParam{Kind: RequestJoin, Join: &JoinParams{NumTokens: 16}}

	clone := topo.Clone()
	clone.NormalNodes["n1"].State = NodeStateDecommissioning
	clone.ReqParams["n2"].Join.NumTokens = 32

	assert.Equal(t, NodeStateNormal, topo.NormalNodes["n1"].State)
	assert.Equal(t, 16, topo.ReqParams["n2"].Join.NumTokens)
}
