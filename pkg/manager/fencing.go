package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ringtopo/ringtopo/pkg/metrics"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// FencingRegistry is the per-replica gate described in §4.3: it holds
// the last-applied topology_version/fence_version pair and decides
// whether a data-plane RPC carrying a given token may proceed.
//
// A token of 0 means the caller opted out of fencing (legacy or
// bootstrapping callers) and is always accepted.
type FencingRegistry struct {
	applier *Applier

	mu           sync.RWMutex
	version      uint64
	fenceVersion uint64
}

// NewFencingRegistry returns a registry that tracks applier's state.
// Callers should call Refresh after every observed Applier install, or
// rely on Check's bounded wait to pull a fresh value lazily.
func NewFencingRegistry(applier *Applier) *FencingRegistry {
	r := &FencingRegistry{applier: applier}
	r.Refresh()
	return r
}

// Refresh re-reads the current version/fence_version from the Applier.
func (r *FencingRegistry) Refresh() {
	t := r.applier.Topology()
	r.mu.Lock()
	r.version = t.Version
	r.fenceVersion = t.FenceVersion
	r.mu.Unlock()
}

// Check validates a fencing token against the current local state,
// waiting up to wait for the Applier to catch up if the token is ahead
// of what has been applied locally (a lagging follower serving a
// request fenced against a version it has not yet replicated).
func (r *FencingRegistry) Check(ctx context.Context, token uint64, wait time.Duration) error {
	if token == 0 {
		return nil
	}

	r.mu.RLock()
	fenceVersion := r.fenceVersion
	version := r.version
	r.mu.RUnlock()

	if token < fenceVersion {
		metrics.FencingRejectionsTotal.Inc()
		return fmt.Errorf("%w: token %d below fence_version %d", topology.ErrStaleTopology, token, fenceVersion)
	}

	if token > version {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if err := r.applier.WaitForVersion(waitCtx, token); err != nil {
			return fmt.Errorf("%w: local version did not reach %d in time", topology.ErrStaleTopology, token)
		}
		r.Refresh()
	}

	return nil
}

// CurrentFenceVersion returns the fence_version a caller should stamp
// on outgoing barrier RPCs so in-flight operations it has not yet
// caught up to are correctly gated by the callee.
func (r *FencingRegistry) CurrentFenceVersion() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fenceVersion
}

// Observe updates the exported gauges with the current fencing state;
// intended to be called from a periodic metrics collector.
func (r *FencingRegistry) Observe() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics.TopologyVersion.Set(float64(r.version))
	metrics.TopologyFenceVersion.Set(float64(r.fenceVersion))
}
