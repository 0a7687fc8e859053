package coordinator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ringtopo/ringtopo/pkg/manager"
	"github.com/ringtopo/ringtopo/pkg/storage"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// NewNodeSpec carries the attributes a node presents when it first joins
// consensus, needed before a join/replace request can be recorded against
// it (§4.2's "add node to new_nodes" entry).
type NewNodeSpec struct {
	Datacenter        string
	Rack              string
	ReleaseVersion    string
	ShardCount        int
	PartitionerTuning int
	SupportedFeatures []string
}

// acceptRequest is the shared tail of every Submit* method: it rejects an
// incompatible double-submission with busy, mints a request id, applies
// set_node_request, and writes the topology_requests row's initial
// (done=false) state, per SPEC_FULL's supplemented request-status lifecycle.
func (c *Coordinator) acceptRequest(id topology.NodeID, kind topology.RequestKind, param topology.ReqParam) (uuid.UUID, error) {
	if !c.mgr.IsLeader() {
		return uuid.UUID{}, topology.ErrNotLeader
	}
	topo := c.mgr.Topology()
	if existing, ok := topo.Requests[id]; ok {
		return uuid.UUID{}, fmt.Errorf("%w: node %s already has a pending %s request", topology.ErrBusy, id, existing)
	}

	requestID := uuid.New()
	k := kind
	if err := c.mgr.Apply(manager.Command{
		Op: manager.OpSetNodeRequest,
		Data: mustMarshal(manager.SetNodeRequestPayload{
			ID:        id,
			Kind:      &k,
			Param:     param,
			RequestID: requestID,
		}),
	}); err != nil {
		return uuid.UUID{}, fmt.Errorf("record %s request: %w", kind, err)
	}

	if err := c.mgr.Store().SaveRequestStatus(storage.RequestStatus{RequestID: requestID}); err != nil {
		c.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("failed to persist initial request status row")
	}
	return requestID, nil
}

// SubmitJoin registers a brand new node (adding it to new_nodes if this is
// the first time it has been seen) and queues a join request for it.
func (c *Coordinator) SubmitJoin(id topology.NodeID, spec NewNodeSpec, numTokens int) (uuid.UUID, error) {
	if !c.mgr.IsLeader() {
		return uuid.UUID{}, topology.ErrNotLeader
	}
	topo := c.mgr.Topology()
	if !topo.Contains(id) {
		if err := c.mgr.Apply(manager.Command{
			Op: manager.OpAddNewNode,
			Data: mustMarshal(manager.AddNewNodePayload{
				ID:                id,
				Datacenter:        spec.Datacenter,
				Rack:              spec.Rack,
				ReleaseVersion:    spec.ReleaseVersion,
				ShardCount:        spec.ShardCount,
				PartitionerTuning: spec.PartitionerTuning,
				SupportedFeatures: spec.SupportedFeatures,
			}),
		}); err != nil {
			return uuid.UUID{}, fmt.Errorf("register new node %s: %w", id, err)
		}
	}
	return c.acceptRequest(id, topology.RequestJoin, topology.ReqParam{
		Kind: topology.RequestJoin,
		Join: &topology.JoinParams{NumTokens: numTokens},
	})
}

// SubmitReplace queues a replace request for a brand new node id taking
// over replacedID's ring ownership.
func (c *Coordinator) SubmitReplace(id topology.NodeID, spec NewNodeSpec, replacedID topology.NodeID, ignored map[topology.NodeID]struct{}) (uuid.UUID, error) {
	if !c.mgr.IsLeader() {
		return uuid.UUID{}, topology.ErrNotLeader
	}
	topo := c.mgr.Topology()
	if _, ok := topo.NormalNodes[replacedID]; !ok {
		return uuid.UUID{}, fmt.Errorf("%w: replaced node %s is not in normal_nodes", topology.ErrInvalidRequest, replacedID)
	}
	if !topo.Contains(id) {
		if err := c.mgr.Apply(manager.Command{
			Op: manager.OpAddNewNode,
			Data: mustMarshal(manager.AddNewNodePayload{
				ID:                id,
				Datacenter:        spec.Datacenter,
				Rack:              spec.Rack,
				ReleaseVersion:    spec.ReleaseVersion,
				ShardCount:        spec.ShardCount,
				PartitionerTuning: spec.PartitionerTuning,
				SupportedFeatures: spec.SupportedFeatures,
			}),
		}); err != nil {
			return uuid.UUID{}, fmt.Errorf("register new node %s: %w", id, err)
		}
	}
	return c.acceptRequest(id, topology.RequestReplace, topology.ReqParam{
		Kind: topology.RequestReplace,
		Replace: &topology.ReplaceParams{
			ReplacedID: replacedID,
			IgnoredIDs: ignored,
		},
	})
}

// SubmitLeave queues a graceful decommission of an existing normal node.
func (c *Coordinator) SubmitLeave(id topology.NodeID) (uuid.UUID, error) {
	topo := c.mgr.Topology()
	if _, ok := topo.NormalNodes[id]; !ok {
		return uuid.UUID{}, fmt.Errorf("%w: node %s is not in normal_nodes", topology.ErrInvalidRequest, id)
	}
	return c.acceptRequest(id, topology.RequestLeave, topology.ReqParam{Kind: topology.RequestLeave})
}

// SubmitRemove queues removal of a dead node, skipping its own barrier
// acknowledgement and sourcing stream_ranges from the surviving replicas.
func (c *Coordinator) SubmitRemove(id topology.NodeID, ignored map[topology.NodeID]struct{}) (uuid.UUID, error) {
	topo := c.mgr.Topology()
	if _, ok := topo.NormalNodes[id]; !ok {
		return uuid.UUID{}, fmt.Errorf("%w: node %s is not in normal_nodes", topology.ErrInvalidRequest, id)
	}
	return c.acceptRequest(id, topology.RequestRemove, topology.ReqParam{
		Kind:   topology.RequestRemove,
		Remove: &topology.RemoveParams{IgnoredIDs: ignored},
	})
}

// SubmitRebuild queues a rebuild of an existing node's ranges from a
// source datacenter.
func (c *Coordinator) SubmitRebuild(id topology.NodeID, sourceDatacenter string) (uuid.UUID, error) {
	topo := c.mgr.Topology()
	if _, ok := topo.NormalNodes[id]; !ok {
		return uuid.UUID{}, fmt.Errorf("%w: node %s is not in normal_nodes", topology.ErrInvalidRequest, id)
	}
	return c.acceptRequest(id, topology.RequestRebuild, topology.ReqParam{
		Kind:    topology.RequestRebuild,
		Rebuild: &topology.RebuildParams{SourceDatacenter: sourceDatacenter},
	})
}

// SubmitGlobal queues a cluster-wide reconfiguration. The minted request id
// is stashed on Topology.GlobalRequestID itself (the same durable-handoff
// pattern acceptRequest uses via SetNodeRequestPayload.RequestID) rather than
// coordinator memory, so a coordinator elected mid-operation can still finish
// it and report the right request id.
func (c *Coordinator) SubmitGlobal(kind topology.GlobalRequestKind) (uuid.UUID, error) {
	if !c.mgr.IsLeader() {
		return uuid.UUID{}, topology.ErrNotLeader
	}
	topo := c.mgr.Topology()
	if topo.GlobalRequest != nil {
		return uuid.UUID{}, fmt.Errorf("%w: global request %s already in progress", topology.ErrBusy, *topo.GlobalRequest)
	}
	if topo.PendingGlobalRequest != nil {
		return uuid.UUID{}, fmt.Errorf("%w: global request %s already queued", topology.ErrBusy, *topo.PendingGlobalRequest)
	}
	requestID := uuid.New()
	if err := c.mgr.Apply(manager.Command{
		Op:   manager.OpSetGlobalRequest,
		Data: mustMarshal(manager.SetGlobalRequestPayload{Kind: &kind, RequestID: requestID}),
	}); err != nil {
		return uuid.UUID{}, fmt.Errorf("record global request %s: %w", kind, err)
	}
	if err := c.mgr.Store().SaveRequestStatus(storage.RequestStatus{RequestID: requestID}); err != nil {
		c.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("failed to persist initial request status row")
	}
	return requestID, nil
}

// finishRequest writes the terminal topology_requests row for a per-node
// operation, using the request id the Applier retained on the node's
// replica record for the lifetime of the operation (§3's req_param
// retention rule, mirrored onto request_id).
func (c *Coordinator) finishRequest(requestID uuid.UUID, opErr error) {
	if requestID == (uuid.UUID{}) {
		return
	}
	status := storage.RequestStatus{RequestID: requestID, Done: true}
	if opErr != nil {
		status.Error = opErr.Error()
	}
	if err := c.mgr.Store().SaveRequestStatus(status); err != nil {
		c.logger.Warn().Err(err).Str("request_id", requestID.String()).Msg("failed to persist terminal request status row")
	}
}
