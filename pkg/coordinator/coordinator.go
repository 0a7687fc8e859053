// Package coordinator implements the Topology Coordinator (§4.5): the
// leader-only driver that advances the topology transition state machine
// one phase at a time, issuing the Coordinator RPC Surface (§4.6) against
// participating nodes and committing each advance to the consensus log
// before acting on it. It holds no durable state of its own; every
// decision is re-derived from the currently applied Topology, which is
// what makes a freshly elected leader able to resume a transition left
// behind by its predecessor (§4.5's crash-recoverability requirement).
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ringtopo/ringtopo/pkg/coordinator/rpc"
	rtlog "github.com/ringtopo/ringtopo/pkg/log"
	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/metrics"
	"github.com/ringtopo/ringtopo/pkg/queue"
	"github.com/ringtopo/ringtopo/pkg/streaming"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// AddressResolver is the narrow slice of the gossip collaborator (§6) the
// coordinator needs: resolving a node id to a dialable address for the
// Coordinator RPC Surface, and answering wait_for_ip polls.
type AddressResolver interface {
	AddressOf(id topology.NodeID) (string, bool)
	Contains(id topology.NodeID) bool
}

// Config holds construction parameters for a Coordinator, mirroring the
// teacher's per-component Config struct convention.
type Config struct {
	Manager   *manager.Manager
	Addresses AddressResolver
	Dialer    rpc.Dialer
	Streaming streaming.Streaming
	Tokens    TokenAllocator
	// Interval is the driver ticker period. Defaults to 2 seconds.
	Interval time.Duration
}

// Coordinator is the leader-only topology driver.
type Coordinator struct {
	mgr       *manager.Manager
	addresses AddressResolver
	dialer    rpc.Dialer
	streamer  streaming.Streaming
	tokens    TokenAllocator
	interval  time.Duration
	logger    zerolog.Logger

	stopCh chan struct{}
}

// New constructs a Coordinator from cfg, defaulting Tokens to the hash
// allocator and Interval to 2s if unset.
func New(cfg Config) *Coordinator {
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = NewHashTokenAllocator()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Coordinator{
		mgr:       cfg.Manager,
		addresses: cfg.Addresses,
		dialer:    cfg.Dialer,
		streamer:  cfg.Streaming,
		tokens:    tokens,
		interval:  interval,
		logger:    rtlog.WithComponent("coordinator"),
		stopCh:    make(chan struct{}),
	}
}

// Topology returns the current locally-applied Topology, for read-only
// callers such as the administrative HTTP surface.
func (c *Coordinator) Topology() *topology.Topology {
	return c.mgr.Topology()
}

// advance commits a plain transition-state advance: safe whenever the
// busy window is already open (transition_nodes non-empty), since only
// opening or closing that window needs the composite ops.
func (c *Coordinator) advance(next topology.TransitionState) {
	if err := c.mgr.Apply(manager.Command{
		Op:   manager.OpAdvanceTransitionState,
		Data: mustMarshal(manager.AdvanceTransitionStatePayload{TState: &next}),
	}); err != nil {
		c.logger.Error().Err(err).Str("tstate", string(next)).Msg("failed to advance transition state")
	}
}

// Start begins the driver loop in a background goroutine.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop ends the driver loop.
func (c *Coordinator) Stop() {
	close(c.stopCh)
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info().Msg("topology coordinator started")

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithCancel(context.Background())
			c.step(ctx)
			cancel()
		case <-c.stopCh:
			c.logger.Info().Msg("topology coordinator stopped")
			return
		}
	}
}

// step performs one unit of driver work: resume whatever operation is
// already in progress, or start the next one the Request Queue &
// Prioritizer (§4.4) names. It is a no-op on a non-leader replica.
func (c *Coordinator) step(ctx context.Context) {
	if !c.mgr.IsLeader() {
		return
	}
	topo := c.mgr.Topology()

	if id, ok := activeTransitionNode(topo); ok {
		c.driveNode(ctx, topo, id)
		return
	}

	if topo.GlobalRequest != nil {
		c.driveGlobal(ctx, topo, *topo.GlobalRequest)
		return
	}

	sel, ok := queue.Next(topo)
	if !ok {
		return
	}
	if sel.IsGlobal() {
		c.startGlobal(ctx, topo, *sel.Global)
		return
	}
	c.startNode(ctx, topo, sel.NodeID, sel.Kind, sel.Param)
}

// activeTransitionNode returns the single node currently mid-operation,
// if any. The reference coordinator serializes one per-node operation at
// a time (§4.5 "Ordering and tie-break rules"), so transition_nodes is
// expected to hold at most one entry; ties are broken by id for
// determinism in case that invariant is ever relaxed upstream.
func activeTransitionNode(topo *topology.Topology) (topology.NodeID, bool) {
	if len(topo.TransitionNodes) == 0 {
		return "", false
	}
	ids := make([]topology.NodeID, 0, len(topo.TransitionNodes))
	for id := range topo.TransitionNodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], true
}

// targets returns the normal and transitioning node ids a barrier must
// wait for, excluding §4.1's excluded_nodes().
func targets(topo *topology.Topology) []topology.NodeID {
	excluded := topo.ExcludedNodes()
	var ids []topology.NodeID
	for id := range topo.NormalNodes {
		if _, ex := excluded[id]; !ex {
			ids = append(ids, id)
		}
	}
	for id := range topo.TransitionNodes {
		if _, ex := excluded[id]; !ex {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// isRetryable reports whether err names one of the transient RPC failure
// kinds (§7) the coordinator should back off and redrive, as opposed to
// an irrecoverable failure a leave/remove operation must roll back from.
func isRetryable(err error) bool {
	return errors.Is(err, topology.ErrStreamFailed) ||
		errors.Is(err, topology.ErrBarrierFailed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// callWithRetry redrives fn with exponential backoff while it fails with
// a retryable error, the coordinator is still leader, and ctx is alive
// (§4.5 Failure semantics). A non-retryable error returns immediately.
func (c *Coordinator) callWithRetry(ctx context.Context, rpcName string, fn func() error) error {
	b := newBackoff()
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if !c.mgr.IsLeader() {
			return fmt.Errorf("%w: lost leadership while retrying %s", topology.ErrNotLeader, rpcName)
		}
		metrics.RPCRetriesTotal.WithLabelValues(rpcName).Inc()
		select {
		case <-time.After(b.Next()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) dial(ctx context.Context, id topology.NodeID) (rpc.NodeClient, error) {
	addr, ok := c.addresses.AddressOf(id)
	if !ok {
		return nil, fmt.Errorf("%w: no known address for node %s", topology.ErrBarrierFailed, id)
	}
	client, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", topology.ErrBarrierFailed, addr, err)
	}
	return client, nil
}

// barrier issues barrier to every in-scope target and blocks until every
// one of them acknowledges having applied topo.Version.
func (c *Coordinator) barrier(ctx context.Context, topo *topology.Topology) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCDuration, "barrier")
	for _, id := range targets(topo) {
		id := id
		err := c.callWithRetry(ctx, "barrier", func() error {
			client, err := c.dial(ctx, id)
			if err != nil {
				return err
			}
			defer client.Close()
			reply, err := client.Barrier(ctx, &rpc.BarrierRequest{TopologyVersion: topo.Version})
			if err != nil {
				metrics.BarrierAcksTotal.WithLabelValues("barrier", "error").Inc()
				return fmt.Errorf("%w: %v", topology.ErrBarrierFailed, err)
			}
			if !reply.Success {
				metrics.BarrierAcksTotal.WithLabelValues("barrier", "fail").Inc()
				return fmt.Errorf("%w: %s", topology.ErrBarrierFailed, reply.Reason)
			}
			metrics.BarrierAcksTotal.WithLabelValues("barrier", "ok").Inc()
			return nil
		})
		if err != nil {
			return fmt.Errorf("barrier against %s: %w", id, err)
		}
	}
	return nil
}

// barrierAndDrain is barrier extended with the old fence_version new
// data-plane operations must be rejected at while draining in-flight ones.
func (c *Coordinator) barrierAndDrain(ctx context.Context, topo *topology.Topology) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCDuration, "barrier_and_drain")
	for _, id := range targets(topo) {
		id := id
		err := c.callWithRetry(ctx, "barrier_and_drain", func() error {
			client, err := c.dial(ctx, id)
			if err != nil {
				return err
			}
			defer client.Close()
			reply, err := client.BarrierAndDrain(ctx, &rpc.BarrierAndDrainRequest{
				TopologyVersion: topo.Version,
				FenceVersion:    topo.FenceVersion,
			})
			if err != nil {
				metrics.BarrierAcksTotal.WithLabelValues("barrier_and_drain", "error").Inc()
				return fmt.Errorf("%w: %v", topology.ErrBarrierFailed, err)
			}
			if !reply.Success {
				metrics.BarrierAcksTotal.WithLabelValues("barrier_and_drain", "fail").Inc()
				return fmt.Errorf("%w: %s", topology.ErrBarrierFailed, reply.Reason)
			}
			metrics.BarrierAcksTotal.WithLabelValues("barrier_and_drain", "ok").Inc()
			return nil
		})
		if err != nil {
			return fmt.Errorf("barrier_and_drain against %s: %w", id, err)
		}
	}
	return nil
}

// streamRanges issues stream_ranges against streamTarget and waits for
// completion, both through the RPC surface (for a real node to carry out)
// and through the Streaming collaborator directly (the in-process
// reference coordinator can drive streaming itself when it is also the
// data-plane node, e.g. in tests and single-binary demos).
func (c *Coordinator) streamRanges(ctx context.Context, topo *topology.Topology, streamTarget topology.NodeID, plan streaming.Plan) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCDuration, "stream_ranges")
	return c.callWithRetry(ctx, "stream_ranges", func() error {
		if err := c.streamer.Stream(ctx, plan); err != nil {
			return fmt.Errorf("%w: %v", topology.ErrStreamFailed, err)
		}
		client, err := c.dial(ctx, streamTarget)
		if err != nil {
			// No RPC listener registered for this target (common in tests
			// that only exercise the Streaming collaborator directly); the
			// local Stream call above already completed the transfer.
			return nil
		}
		defer client.Close()
		reply, err := client.StreamRanges(ctx, &rpc.StreamRangesRequest{
			TopologyVersion: topo.Version,
			NodeID:          plan.NodeID,
			Direction:       string(plan.Direction),
			Ranges:          plan.Ranges,
			Peers:           plan.Peers,
			SessionID:       plan.SessionID,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", topology.ErrStreamFailed, err)
		}
		if !reply.Success {
			return fmt.Errorf("%w: %s", topology.ErrStreamFailed, reply.Reason)
		}
		return nil
	})
}

// waitForIP blocks until id's address is known to the address map
// collaborator, polling with a capped backoff (§4.5 step 1). The
// coordinator answers this directly off its own address resolver rather
// than round-tripping its own wait_for_ip RPC, since it is itself
// co-located with a node holding the same collaborator handle.
func (c *Coordinator) waitForIP(ctx context.Context, id topology.NodeID) error {
	if c.addresses.Contains(id) {
		return nil
	}
	b := newBackoff()
	for {
		select {
		case <-time.After(b.Next()):
			if c.addresses.Contains(id) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("coordinator stopped while waiting for %s's address", id)
		}
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("coordinator: marshal %T: %v", v, err))
	}
	return data
}
