package coordinator

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ringtopo/ringtopo/pkg/coordinator/rpc"
	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/metrics"
	"github.com/ringtopo/ringtopo/pkg/storage"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// cleanupTState is the busy-window marker for a cleanup global request.
// cleanup never moves any node between per-node states, so it borrows
// tablet_draining the way rebuild borrows tablet_migration: a named
// phase with no consensus-visible side effect of its own beyond "work is
// happening".
const cleanupTState = topology.TransitionTabletDraining

// cdcGenerationRangeOwner is the opaque payload stored alongside each
// generation row, naming the node the range was assigned to at the
// generation's start; the core never interprets CDCGenerationRange.Data
// itself, only stores and forwards it.
type cdcGenerationRangeOwner struct {
	NodeID topology.NodeID `json:"node_id"`
}

// buildCDCGenerationRanges snapshots the current ring as one
// single-token generation row per token every normal node owns.
func buildCDCGenerationRanges(topo *topology.Topology) []storage.CDCGenerationRange {
	ids := make([]topology.NodeID, 0, len(topo.NormalNodes))
	for id := range topo.NormalNodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var ranges []storage.CDCGenerationRange
	for _, id := range ids {
		record := topo.NormalNodes[id]
		if record.Ring == nil {
			continue
		}
		owner := mustMarshal(cdcGenerationRangeOwner{NodeID: id})
		for _, tok := range record.Ring.Tokens {
			ranges = append(ranges, storage.CDCGenerationRange{
				StartToken: tok,
				EndToken:   tok,
				Data:       owner,
			})
		}
	}
	return ranges
}

// startGlobal opens the busy window for sel, a global request the
// Request Queue & Prioritizer selected (§4.4: global requests are only
// ever started once no node-level request is already in flight).
func (c *Coordinator) startGlobal(ctx context.Context, topo *topology.Topology, kind topology.GlobalRequestKind) {
	switch kind {
	case topology.GlobalRequestNewCDCGeneration:
		id := uuid.New()
		if err := c.mgr.Apply(manager.Command{
			Op:   manager.OpBeginCDCGenerationGlobalRequest,
			Data: mustMarshal(manager.BeginCDCGenerationGlobalRequestPayload{DataUUID: id}),
		}); err != nil {
			c.logger.Error().Err(err).Msg("failed to begin new_cdc_generation")
		}
	case topology.GlobalRequestCleanup:
		if err := c.mgr.Apply(manager.Command{
			Op: manager.OpBeginGlobalRequest,
			Data: mustMarshal(manager.BeginGlobalRequestPayload{
				Kind:   kind,
				TState: cleanupTState,
			}),
		}); err != nil {
			c.logger.Error().Err(err).Msg("failed to begin cleanup")
			return
		}
		for id := range topo.NormalNodes {
			if err := c.mgr.Apply(manager.Command{
				Op:   manager.OpSetCleanupStatus,
				Data: mustMarshal(manager.SetCleanupStatusPayload{ID: id, Status: topology.CleanupNeeded}),
			}); err != nil {
				c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to mark node cleanup_needed")
			}
		}
	default:
		c.logger.Error().Str("kind", string(kind)).Msg("unrecognized global request kind")
	}
}

// driveGlobal resumes the in-flight global request.
func (c *Coordinator) driveGlobal(ctx context.Context, topo *topology.Topology, kind topology.GlobalRequestKind) {
	switch kind {
	case topology.GlobalRequestNewCDCGeneration:
		c.driveNewCDCGeneration(ctx, topo)
	case topology.GlobalRequestCleanup:
		c.driveCleanup(ctx, topo)
	default:
		c.logger.Error().Str("kind", string(kind)).Msg("global request in an unrecognized kind")
	}
}

func (c *Coordinator) driveNewCDCGeneration(ctx context.Context, topo *topology.Topology) {
	if topo.TState == nil || *topo.TState != topology.TransitionCommitCDCGeneration {
		c.logger.Error().Uint64("topology_version", topo.Version).Msg("new_cdc_generation in an unexpected tstate")
		return
	}
	if topo.NewCDCGenerationDataUUID == nil {
		c.logger.Error().Msg("new_cdc_generation missing its generation data uuid")
		return
	}

	generationID := *topo.NewCDCGenerationDataUUID
	ranges := buildCDCGenerationRanges(topo)
	if err := c.mgr.Store().SaveCDCGeneration(generationID, ranges); err != nil {
		c.logger.Error().Err(err).Str("generation_id", generationID.String()).Msg("failed to persist cdc generation ranges")
		return
	}
	if err := c.mgr.Apply(manager.Command{
		Op:   manager.OpFinishCDCGenerationGlobalRequest,
		Data: mustMarshal(manager.FinishCDCGenerationGlobalRequestPayload{GenerationID: generationID}),
	}); err != nil {
		c.logger.Error().Err(err).Str("generation_id", generationID.String()).Msg("failed to commit cdc generation")
		return
	}
	c.finishGlobalAlreadyCleared(topo.GlobalRequestID, nil)
}

// driveCleanup issues the cleanup RPC against each node still pending,
// cycling its cleanup_status needed -> running -> clean, and retires the
// global request once every normal node reports clean (§4.5, scenario S6).
func (c *Coordinator) driveCleanup(ctx context.Context, topo *topology.Topology) {
	allClean := true
	for _, id := range targets(topo) {
		record, ok := topo.NormalNodes[id]
		if !ok {
			continue
		}
		switch record.CleanupStatus {
		case topology.CleanupClean:
			continue
		case topology.CleanupNeeded:
			allClean = false
			if err := c.mgr.Apply(manager.Command{
				Op:   manager.OpSetCleanupStatus,
				Data: mustMarshal(manager.SetCleanupStatusPayload{ID: id, Status: topology.CleanupRunning}),
			}); err != nil {
				c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to mark node cleanup_running")
			}
		case topology.CleanupRunning:
			allClean = false
			if err := c.runCleanup(ctx, topo, id); err != nil {
				c.logger.Warn().Err(err).Str("node_id", string(id)).Msg("cleanup rpc failed, will retry")
				continue
			}
			if err := c.mgr.Apply(manager.Command{
				Op:   manager.OpSetCleanupStatus,
				Data: mustMarshal(manager.SetCleanupStatusPayload{ID: id, Status: topology.CleanupClean}),
			}); err != nil {
				c.logger.Error().Err(err).Str("node_id", string(id)).Msg("failed to mark node cleanup_clean")
			}
		}
	}
	if allClean {
		c.finishGlobal(topo, nil)
	}
}

func (c *Coordinator) runCleanup(ctx context.Context, topo *topology.Topology, id topology.NodeID) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCDuration, "cleanup")
	return c.callWithRetry(ctx, "cleanup", func() error {
		client, err := c.dial(ctx, id)
		if err != nil {
			return err
		}
		defer client.Close()
		reply, err := client.Cleanup(ctx, &rpc.CleanupRequest{TopologyVersion: topo.Version})
		if err != nil {
			return err
		}
		if !reply.Success {
			return topology.ErrInvalidRequest
		}
		return nil
	})
}

// finishGlobal clears the global request and writes the terminal
// topology_requests row for it, reading the request id off topo.GlobalRequestID
// — set durably on Topology itself by SubmitGlobal, rather than held in
// coordinator memory, so a coordinator elected mid-operation still has it.
// Used by the cleanup path, where clearing global_request is its own entry.
func (c *Coordinator) finishGlobal(topo *topology.Topology, opErr error) {
	requestID := topo.GlobalRequestID
	if err := c.mgr.Apply(manager.Command{Op: manager.OpFinishGlobalRequest}); err != nil {
		c.logger.Error().Err(err).Msg("failed to finish global request")
		return
	}
	c.finishGlobalAlreadyCleared(requestID, opErr)
}

// finishGlobalAlreadyCleared does the request-status bookkeeping for a
// global request whose global_request field was already cleared as part
// of a composite FSM entry (the new_cdc_generation path, where clearing
// it is folded into OpFinishCDCGenerationGlobalRequest).
func (c *Coordinator) finishGlobalAlreadyCleared(requestID uuid.UUID, opErr error) {
	metrics.OperationsTotal.WithLabelValues("global", "success").Inc()
	c.finishRequest(requestID, opErr)
}
