// Package queue implements the Request Queue & Prioritizer (§4.4): a
// pure selection function over the replicated requests/req_param/
// pending_global_request fields already carried on Topology. There is no
// separate queued state to own here — queuing state is part of the
// replicated model, so this package is a library of pure functions
// rather than a long-lived component with its own storage.
package queue

import (
	"sort"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Selection names the request the coordinator should work on next.
type Selection struct {
	// NodeID is set for a per-node selection; zero value for a global one.
	NodeID topology.NodeID
	Kind   topology.RequestKind
	Param  topology.ReqParam

	// Global is set when the selection is the cluster-wide request
	// rather than a per-node one. NodeID/Kind/Param are zero in that case.
	Global *topology.GlobalRequestKind
}

// IsGlobal reports whether the selection is the global_request rather
// than a per-node one.
func (s Selection) IsGlobal() bool {
	return s.Global != nil
}

// Next picks the request the coordinator should act on, applying the
// fixed priority order (replace > join > remove > leave > rebuild, then
// pending_global_request) with ties among same-priority nodes broken by node id
// order, exactly as specified in §4.4. It returns false if there is
// nothing pending.
func Next(t *topology.Topology) (Selection, bool) {
	var candidates []topology.NodeID
	for id := range t.Requests {
		candidates = append(candidates, id)
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			ki, kj := t.Requests[candidates[i]], t.Requests[candidates[j]]
			if ki.Priority() != kj.Priority() {
				return ki.Priority() < kj.Priority()
			}
			return candidates[i] < candidates[j]
		})
		id := candidates[0]
		return Selection{
			NodeID: id,
			Kind:   t.Requests[id],
			Param:  t.ReqParams[id],
		}, true
	}

	if t.PendingGlobalRequest != nil {
		g := *t.PendingGlobalRequest
		return Selection{Global: &g}, true
	}

	return Selection{}, false
}
