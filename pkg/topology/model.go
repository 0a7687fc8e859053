package topology

// Find returns the replica record for id if it is in any non-left
// collection, and whether it was found.
func (t *Topology) Find(id NodeID) (*ReplicaRecord, bool) {
	if r, ok := t.NormalNodes[id]; ok {
		return r, true
	}
	if r, ok := t.NewNodes[id]; ok {
		return r, true
	}
	if r, ok := t.TransitionNodes[id]; ok {
		return r, true
	}
	return nil, false
}

// Contains reports whether id appears anywhere at all, including
// LeftNodes.
func (t *Topology) Contains(id NodeID) bool {
	if _, ok := t.Find(id); ok {
		return true
	}
	_, ok := t.LeftNodes[id]
	return ok
}

// Size returns the number of non-left nodes.
func (t *Topology) Size() int {
	return len(t.NormalNodes) + len(t.NewNodes) + len(t.TransitionNodes)
}

// IsEmpty reports whether the topology has no non-left nodes.
func (t *Topology) IsEmpty() bool {
	return t.Size() == 0
}

// IsBusy reports whether the coordinator is already driving an
// operation, and must refuse to begin a new one.
func (t *Topology) IsBusy() bool {
	return t.TState != nil || len(t.TransitionNodes) > 0 || t.GlobalRequest != nil
}

// ExcludedNodes returns the set of nodes an in-flight barrier must not
// wait for: dead nodes being removed/replaced, plus any ids declared as
// ignored alongside their request.
func (t *Topology) ExcludedNodes() map[NodeID]struct{} {
	excluded := make(map[NodeID]struct{})
	for id, kind := range t.Requests {
		param, ok := t.ReqParams[id]
		if !ok {
			continue
		}
		switch kind {
		case RequestRemove:
			if param.Remove != nil {
				excluded[id] = struct{}{}
				for ignored := range param.Remove.IgnoredIDs {
					excluded[ignored] = struct{}{}
				}
			}
		case RequestReplace:
			if param.Replace != nil {
				excluded[param.Replace.ReplacedID] = struct{}{}
				for ignored := range param.Replace.IgnoredIDs {
					excluded[ignored] = struct{}{}
				}
			}
		}
	}
	return excluded
}

// NotYetEnabledFeatures returns the features every normal node supports
// that have not yet been promoted to the cluster-wide enabled set.
func (t *Topology) NotYetEnabledFeatures() map[string]struct{} {
	common := intersectSupportedFeatures(t.NormalNodes)
	out := make(map[string]struct{})
	for f := range common {
		if _, enabled := t.EnabledFeatures[f]; !enabled {
			out[f] = struct{}{}
		}
	}
	return out
}

func intersectSupportedFeatures(nodes map[NodeID]*ReplicaRecord) map[string]struct{} {
	if len(nodes) == 0 {
		return map[string]struct{}{}
	}
	var common map[string]struct{}
	for _, r := range nodes {
		if common == nil {
			common = cloneStringSet(r.SupportedFeatures)
			continue
		}
		for f := range common {
			if _, ok := r.SupportedFeatures[f]; !ok {
				delete(common, f)
			}
		}
	}
	if common == nil {
		return map[string]struct{}{}
	}
	return common
}
