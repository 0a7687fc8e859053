package topology

import (
	"github.com/google/uuid"
)

// NodeID is the stable server identifier a node is assigned when it first
// joins consensus. It never changes for the lifetime of the node.
type NodeID string

// NodeState enumerates the states a replica record can be in.
type NodeState string

const (
	NodeStateNone              NodeState = "none"
	NodeStateBootstrapping     NodeState = "bootstrapping"
	NodeStateDecommissioning   NodeState = "decommissioning"
	NodeStateRemoving          NodeState = "removing"
	NodeStateReplacing         NodeState = "replacing"
	NodeStateRebuilding        NodeState = "rebuilding"
	NodeStateNormal            NodeState = "normal"
	NodeStateLeft              NodeState = "left"
	NodeStateRollbackToNormal  NodeState = "rollback_to_normal"
)

// TransitionState enumerates the phases a cluster-wide reconfiguration
// passes through under coordinator control.
type TransitionState string

const (
	TransitionJoinGroup0          TransitionState = "join_group0"
	TransitionCommitCDCGeneration TransitionState = "commit_cdc_generation"
	TransitionTabletDraining      TransitionState = "tablet_draining"
	TransitionWriteBothReadOld    TransitionState = "write_both_read_old"
	TransitionWriteBothReadNew    TransitionState = "write_both_read_new"
	TransitionTabletMigration     TransitionState = "tablet_migration"
	TransitionLeftTokenRing       TransitionState = "left_token_ring"
)

// RequestKind enumerates the per-node request kinds, in the priority
// order the coordinator must use when more than one is pending
// (RequestReplace first, RequestRebuild last). This order is preserved
// verbatim from the source design and is not re-derived here — see
// DESIGN.md.
type RequestKind string

const (
	RequestReplace RequestKind = "replace"
	RequestJoin    RequestKind = "join"
	RequestRemove  RequestKind = "remove"
	RequestLeave   RequestKind = "leave"
	RequestRebuild RequestKind = "rebuild"
)

// requestPriority orders RequestKind values; lower sorts first.
var requestPriority = map[RequestKind]int{
	RequestReplace: 0,
	RequestJoin:    1,
	RequestRemove:  2,
	RequestLeave:   3,
	RequestRebuild: 4,
}

// Priority returns the request's position in the fixed selection order
// (lower means higher priority). Unknown kinds sort last.
func (k RequestKind) Priority() int {
	if p, ok := requestPriority[k]; ok {
		return p
	}
	return len(requestPriority)
}

// GlobalRequestKind enumerates cluster-wide reconfigurations that are not
// tied to a single node.
type GlobalRequestKind string

const (
	GlobalRequestNewCDCGeneration GlobalRequestKind = "new_cdc_generation"
	GlobalRequestCleanup          GlobalRequestKind = "cleanup"
)

// CleanupStatus tracks a node's progress through a cluster-wide cleanup.
type CleanupStatus string

const (
	CleanupClean   CleanupStatus = "clean"
	CleanupNeeded  CleanupStatus = "needed"
	CleanupRunning CleanupStatus = "running"
)

// Token is a position on the 64-bit partitioning ring.
type Token uint64

// RingSlice is the set of tokens a node owns.
type RingSlice struct {
	Tokens []Token
}

// Clone returns a deep copy of the ring slice.
func (r *RingSlice) Clone() *RingSlice {
	if r == nil {
		return nil
	}
	out := &RingSlice{Tokens: make([]Token, len(r.Tokens))}
	copy(out.Tokens, r.Tokens)
	return out
}

// JoinParams is the typed parameter bundle for a pending "join" request.
type JoinParams struct {
	NumTokens int
}

// RebuildParams is the typed parameter bundle for a pending "rebuild" request.
type RebuildParams struct {
	SourceDatacenter string
}

// RemoveParams is the typed parameter bundle for a pending "remove" request.
type RemoveParams struct {
	IgnoredIDs map[NodeID]struct{}
}

// ReplaceParams is the typed parameter bundle for a pending "replace" request.
type ReplaceParams struct {
	ReplacedID NodeID
	IgnoredIDs map[NodeID]struct{}
}

// ReqParam is a tagged union over the per-request parameter bundles.
// Exactly one of the pointer fields matching Kind is populated; this
// mirrors a Rust-style sum type using a closed Kind enum with total-match
// dispatch rather than an interface hierarchy, per the source design's
// "sum types over class hierarchies" note.
type ReqParam struct {
	Kind    RequestKind
	Join    *JoinParams
	Rebuild *RebuildParams
	Remove  *RemoveParams
	Replace *ReplaceParams
}

// Clone returns a deep copy of the parameter bundle.
func (p ReqParam) Clone() ReqParam {
	out := ReqParam{Kind: p.Kind}
	switch p.Kind {
	case RequestJoin:
		if p.Join != nil {
			j := *p.Join
			out.Join = &j
		}
	case RequestRebuild:
		if p.Rebuild != nil {
			r := *p.Rebuild
			out.Rebuild = &r
		}
	case RequestRemove:
		if p.Remove != nil {
			out.Remove = &RemoveParams{IgnoredIDs: cloneIDSet(p.Remove.IgnoredIDs)}
		}
	case RequestReplace:
		if p.Replace != nil {
			out.Replace = &ReplaceParams{
				ReplacedID: p.Replace.ReplacedID,
				IgnoredIDs: cloneIDSet(p.Replace.IgnoredIDs),
			}
		}
	}
	return out
}

// ReplicaRecord is the per-node record retained for every node that is
// not in LeftNodes.
type ReplicaRecord struct {
	ID                NodeID
	State             NodeState
	Datacenter        string
	Rack              string
	ReleaseVersion    string
	Ring              *RingSlice
	ShardCount        int
	PartitionerTuning int
	SupportedFeatures map[string]struct{}
	CleanupStatus     CleanupStatus
	// RequestID is the request currently driving this node, or the last
	// one that did, if none is active.
	RequestID uuid.UUID
	// RollbackError is the irrecoverable failure that sent this node into
	// rollback_to_normal, durably recorded here (rather than held in
	// coordinator-local memory) so that a newly elected coordinator can
	// still report it on the topology_requests row once the rollback
	// finishes. Cleared once the node is promoted back to normal.
	RollbackError string
}

// Clone returns a deep copy of the replica record.
func (r *ReplicaRecord) Clone() *ReplicaRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Ring = r.Ring.Clone()
	out.SupportedFeatures = cloneStringSet(r.SupportedFeatures)
	return &out
}

// Topology is the singleton root of the replicated cluster state.
type Topology struct {
	// TState is the transition state currently in progress, if any.
	TState *TransitionState

	// Version advances on every committed transition entry.
	Version uint64
	// FenceVersion advances only at read-ownership handover boundaries;
	// always FenceVersion <= Version.
	FenceVersion uint64

	NormalNodes     map[NodeID]*ReplicaRecord
	NewNodes        map[NodeID]*ReplicaRecord
	TransitionNodes map[NodeID]*ReplicaRecord
	LeftNodes       map[NodeID]struct{}

	Requests  map[NodeID]RequestKind
	ReqParams map[NodeID]ReqParam

	// PendingGlobalRequest is a global request that has been accepted but
	// not yet started: it carries no busy-window weight of its own,
	// mirroring how Requests holds a per-node kind before the node moves
	// into TransitionNodes. GlobalRequest is the started, busy-window
	// counterpart, set atomically with TState once the Request Queue &
	// Prioritizer picks it up.
	PendingGlobalRequest *GlobalRequestKind
	GlobalRequest        *GlobalRequestKind
	// GlobalRequestID is the request id minted when the global request was
	// accepted (the same durable-handoff pattern ReplicaRecord.RequestID
	// uses for per-node requests): set alongside PendingGlobalRequest and
	// carried unchanged through to the active GlobalRequest window, so a
	// newly elected coordinator can still write the terminal
	// topology_requests row without any coordinator-local bookkeeping.
	// Cleared when the global request finishes.
	GlobalRequestID uuid.UUID

	CurrentCDCGenerationID   *uuid.UUID
	NewCDCGenerationDataUUID *uuid.UUID
	UnpublishedCDCGenerations []uuid.UUID

	EnabledFeatures map[string]struct{}

	SessionID uuid.UUID

	TabletBalancingEnabled bool
}

// New returns an empty Topology ready to accept its first joining node.
func New() *Topology {
	return &Topology{
		NormalNodes:     make(map[NodeID]*ReplicaRecord),
		NewNodes:        make(map[NodeID]*ReplicaRecord),
		TransitionNodes: make(map[NodeID]*ReplicaRecord),
		LeftNodes:       make(map[NodeID]struct{}),
		Requests:        make(map[NodeID]RequestKind),
		ReqParams:       make(map[NodeID]ReqParam),
		EnabledFeatures: make(map[string]struct{}),
	}
}

// Clone returns a deep copy of the topology. The Applier clones the
// current state, mutates the clone, runs CheckInvariants against it, and
// only then installs it — so a bad entry never leaves partially-applied
// state visible to readers.
func (t *Topology) Clone() *Topology {
	out := &Topology{
		Version:                t.Version,
		FenceVersion:           t.FenceVersion,
		NormalNodes:            make(map[NodeID]*ReplicaRecord, len(t.NormalNodes)),
		NewNodes:               make(map[NodeID]*ReplicaRecord, len(t.NewNodes)),
		TransitionNodes:        make(map[NodeID]*ReplicaRecord, len(t.TransitionNodes)),
		LeftNodes:              make(map[NodeID]struct{}, len(t.LeftNodes)),
		Requests:               make(map[NodeID]RequestKind, len(t.Requests)),
		ReqParams:              make(map[NodeID]ReqParam, len(t.ReqParams)),
		EnabledFeatures:        cloneStringSet(t.EnabledFeatures),
		SessionID:              t.SessionID,
		TabletBalancingEnabled: t.TabletBalancingEnabled,
		GlobalRequestID:        t.GlobalRequestID,
	}
	if t.TState != nil {
		s := *t.TState
		out.TState = &s
	}
	if t.PendingGlobalRequest != nil {
		g := *t.PendingGlobalRequest
		out.PendingGlobalRequest = &g
	}
	if t.GlobalRequest != nil {
		g := *t.GlobalRequest
		out.GlobalRequest = &g
	}
	if t.CurrentCDCGenerationID != nil {
		id := *t.CurrentCDCGenerationID
		out.CurrentCDCGenerationID = &id
	}
	if t.NewCDCGenerationDataUUID != nil {
		id := *t.NewCDCGenerationDataUUID
		out.NewCDCGenerationDataUUID = &id
	}
	out.UnpublishedCDCGenerations = append([]uuid.UUID(nil), t.UnpublishedCDCGenerations...)
	for id, r := range t.NormalNodes {
		out.NormalNodes[id] = r.Clone()
	}
	for id, r := range t.NewNodes {
		out.NewNodes[id] = r.Clone()
	}
	for id, r := range t.TransitionNodes {
		out.TransitionNodes[id] = r.Clone()
	}
	for id := range t.LeftNodes {
		out.LeftNodes[id] = struct{}{}
	}
	for id, k := range t.Requests {
		out.Requests[id] = k
	}
	for id, p := range t.ReqParams {
		out.ReqParams[id] = p.Clone()
	}
	return out
}

func cloneStringSet(in map[string]struct{}) map[string]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func cloneIDSet(in map[NodeID]struct{}) map[NodeID]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[NodeID]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
