package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/metrics"
	"github.com/ringtopo/ringtopo/pkg/streaming"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// startNode begins driving sel, the request the Request Queue &
// Prioritizer selected, moving the target node into transition_nodes
// under a freshly opened busy window (§4.5 step 1/step 1 of Join-Replace
// and Leave-Remove respectively).
func (c *Coordinator) startNode(ctx context.Context, topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) {
	switch kind {
	case topology.RequestJoin, topology.RequestReplace:
		c.startJoinOrReplace(ctx, topo, id, kind, param)
	case topology.RequestLeave, topology.RequestRemove:
		c.startLeaveOrRemove(ctx, topo, id, kind, param)
	case topology.RequestRebuild:
		c.startRebuild(ctx, topo, id, param)
	default:
		c.logger.Error().Str("node_id", string(id)).Str("kind", string(kind)).Msg("unrecognized request kind")
	}
}

// driveNode resumes whatever operation is already in progress for the
// single active transition_nodes entry, dispatching on its per-node
// state (bootstrapping/replacing, decommissioning/removing, rebuilding,
// rollback_to_normal).
func (c *Coordinator) driveNode(ctx context.Context, topo *topology.Topology, id topology.NodeID) {
	record := topo.TransitionNodes[id]
	kind := topo.Requests[id]
	param := topo.ReqParams[id]

	switch record.State {
	case topology.NodeStateBootstrapping, topology.NodeStateReplacing:
		c.continueJoinOrReplace(ctx, topo, id, kind, param)
	case topology.NodeStateDecommissioning, topology.NodeStateRemoving:
		c.continueLeaveOrRemove(ctx, topo, id, kind, param)
	case topology.NodeStateRebuilding:
		c.continueRebuild(ctx, topo, id, param)
	case topology.NodeStateRollbackToNormal:
		c.finishRollback(ctx, topo, id, record)
	default:
		c.logger.Error().Str("node_id", string(id)).Str("state", string(record.State)).Msg("node mid-transition in an unexpected state")
	}
}

// resolveRing deterministically computes the ring slice a joining or
// replacing node will own: freshly allocated tokens for a join, or the
// inherited slice of the node being replaced. Recomputing this on every
// tick, rather than persisting it, keeps the coordinator free of durable
// state of its own: TokenAllocator is a pure function of (id, count), and
// a replaced node's ring does not change until the replace operation
// finishes.
func (c *Coordinator) resolveRing(topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) (*topology.RingSlice, error) {
	switch kind {
	case topology.RequestJoin:
		if param.Join == nil {
			return nil, fmt.Errorf("%w: join request for %s missing params", topology.ErrInvalidRequest, id)
		}
		ring := c.tokens.Allocate(id, param.Join.NumTokens)
		return &ring, nil
	case topology.RequestReplace:
		if param.Replace == nil {
			return nil, fmt.Errorf("%w: replace request for %s missing params", topology.ErrInvalidRequest, id)
		}
		old, ok := topo.NormalNodes[param.Replace.ReplacedID]
		if !ok {
			return nil, fmt.Errorf("%w: replaced node %s no longer in normal_nodes", topology.ErrInvalidRequest, param.Replace.ReplacedID)
		}
		return old.Ring.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %s does not own a ring", topology.ErrInvalidRequest, kind)
	}
}

// --- Join / Replace (§4.5 "most intricate path") ---

func (c *Coordinator) startJoinOrReplace(ctx context.Context, topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) {
	if err := c.waitForIP(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("wait_for_ip did not complete this tick")
		return
	}

	state := topology.NodeStateBootstrapping
	if kind == topology.RequestReplace {
		state = topology.NodeStateReplacing
	}
	if err := c.mgr.AddVoter(id, mustAddress(c.addresses, id)); err != nil {
		c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("add_voter failed, will retry next tick")
		return
	}
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpBeginNodeTransition,
		Data: mustMarshal(manager.BeginNodeTransitionPayload{
			ID:     id,
			State:  state,
			TState: topology.TransitionJoinGroup0,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to commit join_group0")
	}
}

func (c *Coordinator) continueJoinOrReplace(ctx context.Context, topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) {
	if topo.TState == nil {
		return
	}
	switch *topo.TState {
	case topology.TransitionJoinGroup0:
		// add_voter and the move into transition_nodes already happened
		// in startJoinOrReplace; join_group0 itself needs no RPC. Entering
		// commit_cdc_generation and minting its generation data uuid land
		// in the same committed entry, so the invariant that tstate implies
		// an in-flight uuid never has a window where it doesn't hold.
		genID := uuid.New()
		if err := c.mgr.Apply(manager.Command{
			Op:   manager.OpAdvanceToCommitCDCGeneration,
			Data: mustMarshal(manager.AdvanceToCommitCDCGenerationPayload{DataUUID: genID}),
		}); err != nil {
			c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to advance to commit_cdc_generation")
		}
	case topology.TransitionCommitCDCGeneration:
		c.commitCDCGenerationForNode(ctx, topo, id, topology.TransitionTabletDraining)
	case topology.TransitionTabletDraining:
		if err := c.barrierAndDrain(ctx, topo); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("tablet_draining barrier_and_drain failed")
			return
		}
		c.advance(topology.TransitionWriteBothReadOld)
	case topology.TransitionWriteBothReadOld:
		if err := c.barrier(ctx, topo); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("write_both_read_old barrier failed")
			return
		}
		ring, err := c.resolveRing(topo, id, kind, param)
		if err != nil {
			c.logger.Error().Err(err).Str("node_id", string(id)).Msg("cannot resolve ring for join/replace")
			return
		}
		plan := streaming.Plan{
			NodeID:    id,
			Direction: streaming.DirectionInbound,
			Ranges:    *ring,
			Peers:     peersExcluding(topo, id),
			SessionID: topo.SessionID,
		}
		if err := c.streamRanges(ctx, topo, id, plan); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("stream_ranges to joiner failed")
			return
		}
		if err := c.mgr.Apply(manager.Command{Op: manager.OpBumpFenceVersion}); err != nil {
			c.logger.Error().Err(err).Msg("failed to bump fence_version")
			return
		}
		c.advance(topology.TransitionWriteBothReadNew)
	case topology.TransitionWriteBothReadNew:
		if err := c.barrier(ctx, topo); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("write_both_read_new barrier failed")
			return
		}
		c.advance(topology.TransitionTabletMigration)
	case topology.TransitionTabletMigration:
		// No tablet load balancer is wired (§1: it consumes topology but
		// never drives transitions), so there are never any per-tablet
		// moves to carry out here; this phase is a pass-through to finish.
		c.finishJoinOrReplace(ctx, topo, id, kind, param)
	default:
		c.logger.Error().Uint64("topology_version", topo.Version).Str("node_id", string(id)).Str("tstate", string(*topo.TState)).Msg("join/replace in an unexpected tstate")
	}
}

// commitCDCGenerationForNode persists the CDC generation currently in
// flight and, in the same committed entry, advances tstate to next,
// mirroring the atomicity of OpAdvanceToCommitCDCGeneration on the exit
// side of the commit_cdc_generation window.
func (c *Coordinator) commitCDCGenerationForNode(ctx context.Context, topo *topology.Topology, id topology.NodeID, next topology.TransitionState) {
	if topo.NewCDCGenerationDataUUID == nil {
		c.logger.Error().Str("node_id", string(id)).Msg("commit_cdc_generation missing its generation data uuid")
		return
	}
	generationID := *topo.NewCDCGenerationDataUUID
	ranges := buildCDCGenerationRanges(topo)
	if err := c.mgr.Store().SaveCDCGeneration(generationID, ranges); err != nil {
		c.logger.Error().Err(err).Str("generation_id", generationID.String()).Msg("failed to persist cdc generation ranges")
		return
	}
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpCommitCDCGenerationAdvance,
		Data: mustMarshal(manager.CommitCDCGenerationAdvancePayload{
			GenerationID: generationID,
			NextTState:   next,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("generation_id", generationID.String()).Msg("failed to commit cdc generation")
	}
}

func (c *Coordinator) finishJoinOrReplace(ctx context.Context, topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) {
	ring, err := c.resolveRing(topo, id, kind, param)
	if err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("cannot resolve ring to promote")
		return
	}
	record := topo.TransitionNodes[id]
	requestID := record.RequestID

	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpFinishPromoteNode,
		Data: mustMarshal(manager.FinishPromoteNodePayload{
			ID:   id,
			Ring: *ring,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to promote node to normal")
		return
	}

	if kind == topology.RequestReplace && param.Replace != nil {
		replacedID := param.Replace.ReplacedID
		if err := c.mgr.RemoveServer(replacedID); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(replacedID)).Msg("remove_server for replaced node failed (may already be gone)")
		}
		if err := c.mgr.Apply(manager.Command{
			Op:   manager.OpDeleteNode,
			Data: mustMarshal(manager.DeleteNodePayload{ID: replacedID}),
		}); err != nil {
			c.logger.Error().Err(err).Str("node_id", string(replacedID)).Msg("failed to retire replaced node")
		}
	}

	metrics.OperationsTotal.WithLabelValues(string(kind), "success").Inc()
	c.finishRequest(requestID, nil)
}

// --- Leave / Decommission / Remove ---

func (c *Coordinator) startLeaveOrRemove(ctx context.Context, topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) {
	state := topology.NodeStateDecommissioning
	if kind == topology.RequestRemove {
		state = topology.NodeStateRemoving
	}
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpBeginNodeTransition,
		Data: mustMarshal(manager.BeginNodeTransitionPayload{
			ID:     id,
			State:  state,
			TState: topology.TransitionWriteBothReadOld,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to begin leave/remove")
	}
}

func (c *Coordinator) continueLeaveOrRemove(ctx context.Context, topo *topology.Topology, id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) {
	if topo.TState == nil {
		return
	}
	record := topo.TransitionNodes[id]

	switch *topo.TState {
	case topology.TransitionWriteBothReadOld:
		if err := c.barrier(ctx, topo); err != nil {
			c.rollbackOrRetry(ctx, topo, id, record, err)
			return
		}
		streamTarget := id
		if kind == topology.RequestRemove {
			// The dead node cannot stream itself off; a surviving replica
			// that already holds copies of its ranges does it instead.
			if surv, ok := firstSurvivor(topo, id); ok {
				streamTarget = surv
			}
		}
		plan := streaming.Plan{
			NodeID:    id,
			Direction: streaming.DirectionOutbound,
			Ranges:    *record.Ring.Clone(),
			Peers:     peersExcluding(topo, id),
			SessionID: topo.SessionID,
		}
		if err := c.streamRanges(ctx, topo, streamTarget, plan); err != nil {
			c.rollbackOrRetry(ctx, topo, id, record, err)
			return
		}
		if err := c.mgr.Apply(manager.Command{Op: manager.OpBumpFenceVersion}); err != nil {
			c.logger.Error().Err(err).Msg("failed to bump fence_version")
			return
		}
		c.advance(topology.TransitionWriteBothReadNew)
	case topology.TransitionWriteBothReadNew:
		if err := c.barrier(ctx, topo); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("leave/remove final barrier failed, retrying")
			return
		}
		c.advance(topology.TransitionLeftTokenRing)
	case topology.TransitionLeftTokenRing:
		if err := c.mgr.RemoveServer(id); err != nil {
			c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("remove_server failed (may already be gone)")
		}
		requestID := record.RequestID
		if err := c.mgr.Apply(manager.Command{
			Op:   manager.OpFinishDeleteNode,
			Data: mustMarshal(manager.FinishDeleteNodePayload{ID: id}),
		}); err != nil {
			c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to retire node to left_nodes")
			return
		}
		metrics.OperationsTotal.WithLabelValues(string(kind), "success").Inc()
		c.finishRequest(requestID, nil)
	default:
		c.logger.Error().Uint64("topology_version", topo.Version).Str("node_id", string(id)).Str("tstate", string(*topo.TState)).Msg("leave/remove in an unexpected tstate")
	}
}

// rollbackOrRetry implements §4.5's "on failure before left_token_ring,
// move to rollback_to_normal" rule: a retryable failure is left for the
// next tick to redrive, but a non-retryable one aborts the operation and
// begins unwinding the node back to normal (scenario S5).
func (c *Coordinator) rollbackOrRetry(ctx context.Context, topo *topology.Topology, id topology.NodeID, record *topology.ReplicaRecord, opErr error) {
	if isRetryable(opErr) {
		c.logger.Warn().Err(opErr).Str("node_id", string(id)).Msg("leave/remove step failed, will retry")
		return
	}
	c.logger.Error().Err(opErr).Str("node_id", string(id)).Msg("leave/remove failed irrecoverably, rolling back")
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpMoveToTransition,
		Data: mustMarshal(manager.MoveToTransitionPayload{
			ID:    id,
			State: topology.NodeStateRollbackToNormal,
			Error: opErr.Error(),
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to commit rollback_to_normal")
		return
	}
}

// finishRollback promotes id back to normal, reading the failure that
// caused the rollback off record.RollbackError — committed durably by
// rollbackOrRetry's OpMoveToTransition entry rather than held in
// coordinator memory, so a coordinator that did not witness the original
// failure (elected after the rollback began) still reports it correctly
// on the operation's topology_requests row (scenario S5).
func (c *Coordinator) finishRollback(ctx context.Context, topo *topology.Topology, id topology.NodeID, record *topology.ReplicaRecord) {
	requestID := record.RequestID
	var opErr error
	if record.RollbackError != "" {
		opErr = errors.New(record.RollbackError)
	}
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpFinishPromoteNode,
		Data: mustMarshal(manager.FinishPromoteNodePayload{
			ID:   id,
			Ring: *record.Ring,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to finish rollback to normal")
		return
	}
	metrics.OperationsTotal.WithLabelValues("rollback", "rolled_back").Inc()
	c.finishRequest(requestID, opErr)
}

// --- Rebuild ---

func (c *Coordinator) startRebuild(ctx context.Context, topo *topology.Topology, id topology.NodeID, param topology.ReqParam) {
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpBeginNodeTransition,
		Data: mustMarshal(manager.BeginNodeTransitionPayload{
			ID:    id,
			State: topology.NodeStateRebuilding,
			// Rebuild never changes ring ownership so it has no natural
			// home among the seven named transition states; tablet_migration
			// is reused as the busy-window marker since, like rebuild, it
			// names a phase with no consensus-visible side effect of its
			// own beyond "work is happening".
			TState: topology.TransitionTabletMigration,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to begin rebuild")
	}
}

func (c *Coordinator) continueRebuild(ctx context.Context, topo *topology.Topology, id topology.NodeID, param topology.ReqParam) {
	record := topo.TransitionNodes[id]
	if record.Ring == nil {
		c.logger.Error().Str("node_id", string(id)).Msg("rebuilding node has no ring to refill")
		return
	}
	if param.Rebuild == nil {
		c.logger.Error().Str("node_id", string(id)).Msg("rebuild request missing source datacenter")
		return
	}
	plan := streaming.Plan{
		NodeID:    id,
		Direction: streaming.DirectionInbound,
		Ranges:    *record.Ring.Clone(),
		Peers:     peersInDatacenter(topo, param.Rebuild.SourceDatacenter, id),
		SessionID: topo.SessionID,
	}
	if err := c.streamRanges(ctx, topo, id, plan); err != nil {
		c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("rebuild stream failed, will retry")
		return
	}
	requestID := record.RequestID
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpFinishPromoteNode,
		Data: mustMarshal(manager.FinishPromoteNodePayload{
			ID:   id,
			Ring: *record.Ring,
		}),
	}); err != nil {
		c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to finish rebuild")
		return
	}
	metrics.OperationsTotal.WithLabelValues("rebuild", "success").Inc()
	c.finishRequest(requestID, nil)
}

func peersExcluding(topo *topology.Topology, id topology.NodeID) []topology.NodeID {
	var peers []topology.NodeID
	for pid := range topo.NormalNodes {
		if pid != id {
			peers = append(peers, pid)
		}
	}
	return peers
}

func peersInDatacenter(topo *topology.Topology, dc string, id topology.NodeID) []topology.NodeID {
	var peers []topology.NodeID
	for pid, r := range topo.NormalNodes {
		if pid != id && r.Datacenter == dc {
			peers = append(peers, pid)
		}
	}
	return peers
}

func firstSurvivor(topo *topology.Topology, excluded topology.NodeID) (topology.NodeID, bool) {
	for pid := range topo.NormalNodes {
		if pid != excluded {
			return pid, true
		}
	}
	return "", false
}

func mustAddress(resolver AddressResolver, id topology.NodeID) string {
	addr, _ := resolver.AddressOf(id)
	return addr
}
