package topology

import "fmt"

// CheckInvariants validates the §3 invariants that must hold after every
// committed log entry. A non-nil error here is a fatal programming bug —
// the consensus layer is assumed to never deliver an entry that violates
// one, so the Applier treats a failure here as unrecoverable (see
// pkg/manager/fsm.go).
func (t *Topology) CheckInvariants() error {
	if err := t.checkDisjointCollections(); err != nil {
		return err
	}
	if err := t.checkTransitionInvariant(); err != nil {
		return err
	}
	if err := t.checkCDCGenerationInvariant(); err != nil {
		return err
	}
	if err := t.checkEnabledFeaturesInvariant(); err != nil {
		return err
	}
	if err := t.checkFenceVersionInvariant(); err != nil {
		return err
	}
	if err := t.checkRingInvariant(); err != nil {
		return err
	}
	return t.checkRequestParamInvariant()
}

func (t *Topology) checkDisjointCollections() error {
	seen := make(map[NodeID]string, t.Size())
	mark := func(id NodeID, collection string) error {
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("node %s present in both %s and %s", id, prev, collection)
		}
		seen[id] = collection
		return nil
	}
	for id := range t.NormalNodes {
		if err := mark(id, "normal_nodes"); err != nil {
			return err
		}
	}
	for id := range t.NewNodes {
		if err := mark(id, "new_nodes"); err != nil {
			return err
		}
	}
	for id := range t.TransitionNodes {
		if err := mark(id, "transition_nodes"); err != nil {
			return err
		}
	}
	for id := range t.LeftNodes {
		if err := mark(id, "left_nodes"); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) checkTransitionInvariant() error {
	busy := len(t.TransitionNodes) > 0 || t.GlobalRequest != nil
	if (t.TState != nil) != busy {
		return fmt.Errorf("tstate presence (%v) disagrees with transition_nodes/global_request activity (%v)", t.TState != nil, busy)
	}
	return nil
}

func (t *Topology) checkCDCGenerationInvariant() error {
	if t.TState != nil && *t.TState == TransitionCommitCDCGeneration && t.NewCDCGenerationDataUUID == nil {
		return fmt.Errorf("tstate is commit_cdc_generation but no generation data uuid is in flight")
	}
	return nil
}

func (t *Topology) checkEnabledFeaturesInvariant() error {
	common := intersectSupportedFeatures(t.NormalNodes)
	for f := range t.EnabledFeatures {
		if _, ok := common[f]; !ok {
			return fmt.Errorf("enabled feature %q is not supported by every normal node", f)
		}
	}
	return nil
}

func (t *Topology) checkFenceVersionInvariant() error {
	if t.FenceVersion > t.Version {
		return fmt.Errorf("fence_version (%d) exceeds version (%d)", t.FenceVersion, t.Version)
	}
	return nil
}

func (t *Topology) checkRingInvariant() error {
	for id, r := range t.NormalNodes {
		if r.State == NodeStateNormal && r.Ring == nil {
			return fmt.Errorf("node %s is normal but has no ring slice", id)
		}
	}
	return nil
}

func (t *Topology) checkRequestParamInvariant() error {
	for id, kind := range t.Requests {
		param, ok := t.ReqParams[id]
		if !ok {
			return fmt.Errorf("node %s has a pending request but no req_param", id)
		}
		if param.Kind != kind {
			return fmt.Errorf("node %s req_param kind %q does not match request kind %q", id, param.Kind, kind)
		}
		switch kind {
		case RequestJoin:
			if param.Join == nil {
				return fmt.Errorf("node %s join request missing join params", id)
			}
		case RequestRebuild:
			if param.Rebuild == nil {
				return fmt.Errorf("node %s rebuild request missing rebuild params", id)
			}
		case RequestRemove:
			if param.Remove == nil {
				return fmt.Errorf("node %s remove request missing remove params", id)
			}
		case RequestReplace:
			if param.Replace == nil {
				return fmt.Errorf("node %s replace request missing replace params", id)
			}
		}
	}
	return nil
}
