package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

func TestNextReturnsFalseWhenEmpty(t *testing.T) {
	topo := topology.New()
	_, ok := Next(topo)
	assert.False(t, ok)
}

func TestNextPrefersReplaceOverEverythingElse(t *testing.T) {
	topo := topology.New()
	topo.Requests["n1"] = topology.RequestJoin
	topo.ReqParams["n1"] = topology.ReqParam{Kind: topology.RequestJoin, Join: &topology.JoinParams{NumTokens: 4}}
	topo.Requests["n2"] = topology.RequestReplace
	topo.ReqParams["n2"] = topology.ReqParam{Kind: topology.RequestReplace, Replace: &topology.ReplaceParams{ReplacedID: "dead"}}
	topo.Requests["n3"] = topology.RequestRebuild
	topo.ReqParams["n3"] = topology.ReqParam{Kind: topology.RequestRebuild, Rebuild: &topology.RebuildParams{}}

	sel, ok := Next(topo)
	require.True(t, ok)
	assert.Equal(t, topology.NodeID("n2"), sel.NodeID)
	assert.Equal(t, topology.RequestReplace, sel.Kind)
	assert.False(t, sel.IsGlobal())
}

func TestNextFullPriorityOrder(t *testing.T) {
	kinds := []topology.RequestKind{
		topology.RequestRebuild,
		topology.RequestLeave,
		topology.RequestRemove,
		topology.RequestJoin,
		topology.RequestReplace,
	}
	order := []topology.RequestKind{
		topology.RequestReplace,
		topology.RequestJoin,
		topology.RequestRemove,
		topology.RequestLeave,
		topology.RequestRebuild,
	}

	for n, expectFirst := range order {
		// Only expectFirst and the kinds ranked below it are pending, so
		// each pass checks the next step of the order.
		pending := make(map[topology.RequestKind]bool)
		for _, k := range order[n:] {
			pending[k] = true
		}
		topo := topology.New()
		for i, k := range kinds {
			if !pending[k] {
				continue
			}
			id := topology.NodeID(string(rune('a' + i)))
			topo.Requests[id] = k
			topo.ReqParams[id] = paramFor(k)
		}
		sel, ok := Next(topo)
		require.True(t, ok)
		assert.Equal(t, expectFirst, sel.Kind, "expected %s to win regardless of node id ordering", expectFirst)
	}
}

func TestNextBreaksTiesByNodeID(t *testing.T) {
	topo := topology.New()
	topo.Requests["zeta"] = topology.RequestJoin
	topo.ReqParams["zeta"] = topology.ReqParam{Kind: topology.RequestJoin, Join: &topology.JoinParams{}}
	topo.Requests["alpha"] = topology.RequestJoin
	topo.ReqParams["alpha"] = topology.ReqParam{Kind: topology.RequestJoin, Join: &topology.JoinParams{}}

	sel, ok := Next(topo)
	require.True(t, ok)
	assert.Equal(t, topology.NodeID("alpha"), sel.NodeID)
}

func TestNextFallsBackToGlobalRequest(t *testing.T) {
	topo := topology.New()
	g := topology.GlobalRequestCleanup
	topo.PendingGlobalRequest = &g

	sel, ok := Next(topo)
	require.True(t, ok)
	assert.True(t, sel.IsGlobal())
	assert.Equal(t, topology.GlobalRequestCleanup, *sel.Global)
}

func TestNextPrefersPerNodeOverGlobal(t *testing.T) {
	topo := topology.New()
	g := topology.GlobalRequestNewCDCGeneration
	topo.PendingGlobalRequest = &g
	topo.Requests["n1"] = topology.RequestLeave
	topo.ReqParams["n1"] = topology.ReqParam{Kind: topology.RequestLeave}

	sel, ok := Next(topo)
	require.True(t, ok)
	assert.False(t, sel.IsGlobal())
	assert.Equal(t, topology.NodeID("n1"), sel.NodeID)
}

func paramFor(k topology.RequestKind) topology.ReqParam {
	switch k {
	case topology.RequestJoin:
		return topology.ReqParam{Kind: k, Join: &topology.JoinParams{}}
	case topology.RequestRebuild:
		return topology.ReqParam{Kind: k, Rebuild: &topology.RebuildParams{}}
	case topology.RequestRemove:
		return topology.ReqParam{Kind: k, Remove: &topology.RemoveParams{}}
	case topology.RequestReplace:
		return topology.ReqParam{Kind: k, Replace: &topology.ReplaceParams{}}
	default:
		return topology.ReqParam{Kind: k}
	}
}
