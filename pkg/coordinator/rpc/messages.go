package rpc

import (
	"github.com/google/uuid"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// BarrierRequest asks the callee to wait until its Applier has reached
// TopologyVersion before returning, per §4.6.
type BarrierRequest struct {
	TopologyVersion uint64 `json:"topology_version"`
}

// BarrierAndDrainRequest is a BarrierRequest extended with the
// fence_version new data-plane operations must be rejected at while the
// callee waits for in-flight ones to finish.
type BarrierAndDrainRequest struct {
	TopologyVersion uint64 `json:"topology_version"`
	FenceVersion    uint64 `json:"fence_version"`
}

// StreamRangesRequest asks the callee to stream the ranges described by
// Plan, fenced to SessionID.
type StreamRangesRequest struct {
	TopologyVersion uint64               `json:"topology_version"`
	NodeID          topology.NodeID      `json:"node_id"`
	Direction       string               `json:"direction"`
	Ranges          topology.RingSlice   `json:"ranges"`
	Peers           []topology.NodeID    `json:"peers"`
	SessionID       uuid.UUID            `json:"session_id"`
}

// WaitForIPRequest asks the callee to wait until JoiningID has a known
// address in its address map.
type WaitForIPRequest struct {
	TopologyVersion uint64          `json:"topology_version"`
	JoiningID       topology.NodeID `json:"joining_id"`
}

// CleanupRequest asks the callee to run a cluster-wide cleanup pass
// (compacting away data it no longer owns after a completed ring
// change) at TopologyVersion.
type CleanupRequest struct {
	TopologyVersion uint64 `json:"topology_version"`
}

// Reply is the common response envelope for the four coordinator->node
// RPCs: success, or a typed failure reason (§4.6 "no partial-success
// semantics are exposed").
type Reply struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// PullTopologySnapshotRequest carries nothing beyond the request itself;
// a follower pulls whatever the leader currently has.
type PullTopologySnapshotRequest struct{}

// PullTopologySnapshotReply bundles the three canonical mutation sets
// named in §4.6: topology, cdc_generations, topology_requests.
type PullTopologySnapshotReply struct {
	Topology          *topology.Topology      `json:"topology"`
	CDCGenerations    []CDCGenerationMutation `json:"cdc_generations"`
	TopologyRequests  []RequestStatusMutation `json:"topology_requests"`
}

// CDCGenerationMutation is one canonical row of the cdc_generations table.
type CDCGenerationMutation struct {
	GenerationID uuid.UUID      `json:"generation_id"`
	StartToken   topology.Token `json:"start_token"`
	EndToken     topology.Token `json:"end_token"`
	Data         []byte         `json:"data"`
}

// RequestStatusMutation is one canonical row of the topology_requests
// table.
type RequestStatusMutation struct {
	RequestID uuid.UUID `json:"request_id"`
	Done      bool      `json:"done"`
	Error     string    `json:"error"`
}
