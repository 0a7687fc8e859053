package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"

	rtlog "github.com/ringtopo/ringtopo/pkg/log"
	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Op enumerates the committed entry kinds the Applier understands. This
// is the closed set named in the data model: every mutation to Topology
// flows through exactly one of these.
type Op string

const (
	OpAddNewNode                Op = "add_new_node"
	OpSetNodeRequest             Op = "set_node_request"
	OpSetGlobalRequest           Op = "set_global_request"
	OpAdvanceTransitionState     Op = "advance_transition_state"
	OpPromoteNode                Op = "promote_node"
	OpMoveToTransition           Op = "move_to_transition"
	OpPublishCDCGenerationsUpTo  Op = "publish_cdc_generations_up_to"
	OpSetEnabledFeatures         Op = "set_enabled_features"
	OpSetSessionID               Op = "set_session_id"
	OpDeleteNode                 Op = "delete_node"
	OpBumpFenceVersion           Op = "bump_fence_version"
	OpSetCleanupStatus           Op = "set_cleanup_status"
	OpSetTabletBalancingEnabled  Op = "set_tablet_balancing_enabled"

	// The ops below are composite: each one atomically performs two or
	// more of the single-field mutations above together in a single
	// committed entry. They exist because §3's invariants must hold
	// after *every* committed entry, not just at quiescence.
	//
	// OpBeginNodeTransition/OpFinishPromoteNode/OpFinishDeleteNode/
	// OpBeginGlobalRequest/OpFinishGlobalRequest guard the busy
	// invariant — "tstate.is_some() iff transition_nodes is non-empty
	// or a global_request is in progress" — which always touches both
	// tstate and either transition_nodes or global_request at once;
	// committing that as two separate entries would leave a window,
	// observable by any replica that applies only the first one, where
	// the invariant does not hold. OpBeginGlobalRequest also clears
	// pending_global_request in the same entry, since accepting (§4.4
	// queuing, via the non-composite OpSetGlobalRequest) and starting a
	// global request are different moments: only starting opens the
	// busy window.
	//
	// OpAdvanceToCommitCDCGeneration/OpCommitCDCGenerationAdvance/
	// OpBeginCDCGenerationGlobalRequest/OpFinishCDCGenerationGlobalRequest
	// guard the CDC generation invariant — "tstate == commit_cdc_generation
	// implies new_cdc_generation_data_uuid.is_some()" — the same way:
	// entering or leaving that transition state always has to happen in
	// the same entry as setting or clearing the data uuid, or a replica
	// that applies only one half would observe a violating state.
	//
	// Every transition interior to an already-busy, already-in-
	// commit_cdc_generation window still uses the plain single-field ops
	// above.
	OpBeginNodeTransition                 Op = "begin_node_transition"
	OpFinishPromoteNode                   Op = "finish_promote_node"
	OpFinishDeleteNode                    Op = "finish_delete_node"
	OpBeginGlobalRequest                  Op = "begin_global_request"
	OpFinishGlobalRequest                 Op = "finish_global_request"
	OpAdvanceToCommitCDCGeneration        Op = "advance_to_commit_cdc_generation"
	OpCommitCDCGenerationAdvance          Op = "commit_cdc_generation_advance"
	OpBeginCDCGenerationGlobalRequest     Op = "begin_cdc_generation_global_request"
	OpFinishCDCGenerationGlobalRequest    Op = "finish_cdc_generation_global_request"
)

// Command is the JSON envelope submitted through raft.Raft.Apply.
type Command struct {
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"data"`
}

// Payload shapes, one per Op.

type AddNewNodePayload struct {
	ID                topology.NodeID `json:"id"`
	Datacenter        string          `json:"datacenter"`
	Rack              string          `json:"rack"`
	ReleaseVersion    string          `json:"release_version"`
	ShardCount        int             `json:"shard_count"`
	PartitionerTuning int             `json:"partitioner_tuning"`
	SupportedFeatures []string        `json:"supported_features"`
}

type SetNodeRequestPayload struct {
	ID        topology.NodeID       `json:"id"`
	Kind      *topology.RequestKind `json:"kind,omitempty"`
	Param     topology.ReqParam     `json:"param"`
	RequestID uuid.UUID             `json:"request_id,omitempty"`
}

// SetGlobalRequestPayload records a global request the coordinator has
// accepted but not yet started, into pending_global_request. It carries
// no busy-window weight on its own — only OpBeginGlobalRequest (or its
// CDC-generation-flavored composite counterpart) does, when the request
// queue picks this one up. RequestID is stashed on Topology itself
// (GlobalRequestID) rather than coordinator-local memory, so it survives
// a leadership change and carries through to the active GlobalRequest
// window untouched.
type SetGlobalRequestPayload struct {
	Kind      *topology.GlobalRequestKind `json:"kind,omitempty"`
	RequestID uuid.UUID                  `json:"request_id,omitempty"`
}

type AdvanceTransitionStatePayload struct {
	TState *topology.TransitionState `json:"tstate,omitempty"`
}

type PromoteNodePayload struct {
	ID   topology.NodeID    `json:"id"`
	Ring topology.RingSlice `json:"ring"`
}

type MoveToTransitionPayload struct {
	ID    topology.NodeID    `json:"id"`
	State topology.NodeState `json:"state"`
	// Error durably records why the node is moving into this state, when
	// applicable (rollback_to_normal); see ReplicaRecord.RollbackError.
	Error string `json:"error,omitempty"`
}

type PublishCDCGenerationsUpToPayload struct {
	GenerationID uuid.UUID `json:"generation_id"`
}

type SetEnabledFeaturesPayload struct {
	Features []string `json:"features"`
}

type SetSessionIDPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

type DeleteNodePayload struct {
	ID topology.NodeID `json:"id"`
}

type SetCleanupStatusPayload struct {
	ID     topology.NodeID        `json:"id"`
	Status topology.CleanupStatus `json:"status"`
}

type SetTabletBalancingEnabledPayload struct {
	Enabled bool `json:"enabled"`
}

type BeginNodeTransitionPayload struct {
	ID     topology.NodeID          `json:"id"`
	State  topology.NodeState       `json:"state"`
	TState topology.TransitionState `json:"tstate"`
}

type FinishPromoteNodePayload struct {
	ID   topology.NodeID    `json:"id"`
	Ring topology.RingSlice `json:"ring"`
}

type FinishDeleteNodePayload struct {
	ID topology.NodeID `json:"id"`
}

type BeginGlobalRequestPayload struct {
	Kind   topology.GlobalRequestKind `json:"kind"`
	TState topology.TransitionState  `json:"tstate"`
}

// AdvanceToCommitCDCGenerationPayload atomically enters commit_cdc_generation
// from within an already-open node-transition busy window, pairing the
// tstate change with minting the generation data uuid the invariant
// requires it to carry.
type AdvanceToCommitCDCGenerationPayload struct {
	DataUUID uuid.UUID `json:"data_uuid"`
}

// CommitCDCGenerationAdvancePayload atomically commits a CDC generation
// and advances tstate to NextTState, clearing the generation data uuid
// in the same entry that stops requiring it.
type CommitCDCGenerationAdvancePayload struct {
	GenerationID uuid.UUID                `json:"generation_id"`
	NextTState   topology.TransitionState `json:"next_tstate"`
}

// BeginCDCGenerationGlobalRequestPayload atomically opens a
// new_cdc_generation global request directly into commit_cdc_generation,
// minting its generation data uuid in the same entry.
type BeginCDCGenerationGlobalRequestPayload struct {
	DataUUID uuid.UUID `json:"data_uuid"`
}

// FinishCDCGenerationGlobalRequestPayload atomically commits a CDC
// generation and retires the new_cdc_generation global request that
// produced it, clearing global_request/tstate/data uuid together.
type FinishCDCGenerationGlobalRequestPayload struct {
	GenerationID uuid.UUID `json:"generation_id"`
}

// Applier is the Command Log Applier: a raft.FSM that deterministically
// folds committed entries into the Topology Model. It performs no I/O;
// persistence to the external tables (§6) is the Manager's job, done
// after Apply returns, not inside it.
type Applier struct {
	mu      sync.RWMutex
	current *topology.Topology
	changed chan struct{}
}

// NewApplier returns an Applier seeded with initial (or an empty
// Topology if initial is nil, e.g. first boot).
func NewApplier(initial *topology.Topology) *Applier {
	if initial == nil {
		initial = topology.New()
	}
	return &Applier{current: initial, changed: make(chan struct{})}
}

// Topology returns a deep copy of the currently applied state.
func (a *Applier) Topology() *topology.Topology {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current.Clone()
}

// WaitForVersion blocks until the applied version reaches at least
// version, or ctx is done. This is the channel-based stand-in for the
// condition variable the applier signals on every applied entry: each
// install() closes the previous "changed" channel, waking every waiter
// without requiring them to be registered in advance.
func (a *Applier) WaitForVersion(ctx context.Context, version uint64) error {
	for {
		a.mu.RLock()
		cur := a.current.Version
		ch := a.changed
		a.mu.RUnlock()
		if cur >= version {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Applier) install(next *topology.Topology) {
	a.mu.Lock()
	a.current = next
	ch := a.changed
	a.changed = make(chan struct{})
	a.mu.Unlock()
	close(ch)
}

// Apply applies a single committed Raft log entry. It returns an error
// (never panics on ordinary bad input) unless the resulting state would
// violate a §3 invariant, in which case it logs fatally and the process
// exits: the consensus layer is assumed to never deliver an entry that
// does this, so reaching it is a programming bug, not a recoverable
// condition.
func (a *Applier) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	a.mu.RLock()
	current := a.current
	a.mu.RUnlock()

	next := current.Clone()
	next.Version = current.Version + 1

	if err := applyCommand(next, cmd); err != nil {
		return fmt.Errorf("apply %s: %w", cmd.Op, err)
	}

	if err := next.CheckInvariants(); err != nil {
		rtlog.WithComponent("applier").Fatal().Err(err).
			Str("op", string(cmd.Op)).
			Uint64("version", next.Version).
			Msg("committed entry violated a topology invariant")
		return fmt.Errorf("%w: %v", topology.ErrFatal, err)
	}

	a.install(next)
	return nil
}

func applyCommand(t *topology.Topology, cmd Command) error {
	switch cmd.Op {
	case OpAddNewNode:
		var p AddNewNodePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if t.Contains(p.ID) {
			return fmt.Errorf("%w: node %s already present", topology.ErrInvalidRequest, p.ID)
		}
		features := make(map[string]struct{}, len(p.SupportedFeatures))
		for _, f := range p.SupportedFeatures {
			features[f] = struct{}{}
		}
		t.NewNodes[p.ID] = &topology.ReplicaRecord{
			ID:                p.ID,
			State:             topology.NodeStateNone,
			Datacenter:        p.Datacenter,
			Rack:              p.Rack,
			ReleaseVersion:    p.ReleaseVersion,
			ShardCount:        p.ShardCount,
			PartitionerTuning: p.PartitionerTuning,
			SupportedFeatures: features,
		}
		return nil

	case OpSetNodeRequest:
		var p SetNodeRequestPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if p.Kind == nil {
			delete(t.Requests, p.ID)
			delete(t.ReqParams, p.ID)
			return nil
		}
		t.Requests[p.ID] = *p.Kind
		t.ReqParams[p.ID] = p.Param
		if record, ok := t.Find(p.ID); ok {
			record.RequestID = p.RequestID
		}
		return nil

	case OpSetGlobalRequest:
		var p SetGlobalRequestPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		t.PendingGlobalRequest = p.Kind
		t.GlobalRequestID = p.RequestID
		return nil

	case OpAdvanceTransitionState:
		var p AdvanceTransitionStatePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		t.TState = p.TState
		return nil

	case OpPromoteNode:
		var p PromoteNodePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		record, ok := takeFrom(p.ID, t.NewNodes, t.TransitionNodes)
		if !ok {
			return fmt.Errorf("%w: node %s is not new or mid-transition", topology.ErrInvalidRequest, p.ID)
		}
		record.State = topology.NodeStateNormal
		ring := p.Ring
		record.Ring = ring.Clone()
		t.NormalNodes[p.ID] = record
		delete(t.Requests, p.ID)
		delete(t.ReqParams, p.ID)
		return nil

	case OpMoveToTransition:
		var p MoveToTransitionPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		record, ok := takeFrom(p.ID, t.NewNodes, t.NormalNodes, t.TransitionNodes)
		if !ok {
			return fmt.Errorf("%w: node %s not found", topology.ErrInvalidRequest, p.ID)
		}
		record.State = p.State
		if p.Error != "" {
			record.RollbackError = p.Error
		}
		t.TransitionNodes[p.ID] = record
		return nil

	case OpPublishCDCGenerationsUpTo:
		var p PublishCDCGenerationsUpToPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		idx := -1
		for i, id := range t.UnpublishedCDCGenerations {
			if id == p.GenerationID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			t.UnpublishedCDCGenerations = append([]uuid.UUID(nil), t.UnpublishedCDCGenerations[idx+1:]...)
		}
		return nil

	case OpSetEnabledFeatures:
		var p SetEnabledFeaturesPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		set := make(map[string]struct{}, len(p.Features))
		for _, f := range p.Features {
			set[f] = struct{}{}
		}
		t.EnabledFeatures = set
		return nil

	case OpSetSessionID:
		var p SetSessionIDPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		t.SessionID = p.SessionID
		return nil

	case OpDeleteNode:
		var p DeleteNodePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if _, ok := takeFrom(p.ID, t.NormalNodes, t.NewNodes, t.TransitionNodes); !ok {
			return fmt.Errorf("%w: node %s not found", topology.ErrInvalidRequest, p.ID)
		}
		t.LeftNodes[p.ID] = struct{}{}
		delete(t.Requests, p.ID)
		delete(t.ReqParams, p.ID)
		return nil

	case OpBumpFenceVersion:
		t.FenceVersion = t.Version
		return nil

	case OpSetCleanupStatus:
		var p SetCleanupStatusPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		record, ok := t.Find(p.ID)
		if !ok {
			return fmt.Errorf("%w: node %s not found", topology.ErrInvalidRequest, p.ID)
		}
		record.CleanupStatus = p.Status
		return nil

	case OpSetTabletBalancingEnabled:
		var p SetTabletBalancingEnabledPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		t.TabletBalancingEnabled = p.Enabled
		return nil

	case OpBeginNodeTransition:
		var p BeginNodeTransitionPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		record, ok := takeFrom(p.ID, t.NewNodes, t.NormalNodes, t.TransitionNodes)
		if !ok {
			return fmt.Errorf("%w: node %s not found", topology.ErrInvalidRequest, p.ID)
		}
		record.State = p.State
		t.TransitionNodes[p.ID] = record
		ts := p.TState
		t.TState = &ts
		return nil

	case OpFinishPromoteNode:
		var p FinishPromoteNodePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		record, ok := takeFrom(p.ID, t.NewNodes, t.TransitionNodes)
		if !ok {
			return fmt.Errorf("%w: node %s is not new or mid-transition", topology.ErrInvalidRequest, p.ID)
		}
		record.State = topology.NodeStateNormal
		ring := p.Ring
		record.Ring = ring.Clone()
		record.RollbackError = ""
		t.NormalNodes[p.ID] = record
		delete(t.Requests, p.ID)
		delete(t.ReqParams, p.ID)
		if len(t.TransitionNodes) == 0 && t.GlobalRequest == nil {
			t.TState = nil
		}
		return nil

	case OpFinishDeleteNode:
		var p FinishDeleteNodePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if _, ok := takeFrom(p.ID, t.NormalNodes, t.NewNodes, t.TransitionNodes); !ok {
			return fmt.Errorf("%w: node %s not found", topology.ErrInvalidRequest, p.ID)
		}
		t.LeftNodes[p.ID] = struct{}{}
		delete(t.Requests, p.ID)
		delete(t.ReqParams, p.ID)
		if len(t.TransitionNodes) == 0 && t.GlobalRequest == nil {
			t.TState = nil
		}
		return nil

	case OpBeginGlobalRequest:
		var p BeginGlobalRequestPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		kind := p.Kind
		t.GlobalRequest = &kind
		t.PendingGlobalRequest = nil
		ts := p.TState
		t.TState = &ts
		return nil

	case OpFinishGlobalRequest:
		t.GlobalRequest = nil
		t.GlobalRequestID = uuid.UUID{}
		if len(t.TransitionNodes) == 0 {
			t.TState = nil
		}
		return nil

	case OpAdvanceToCommitCDCGeneration:
		var p AdvanceToCommitCDCGenerationPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		id := p.DataUUID
		t.NewCDCGenerationDataUUID = &id
		ts := topology.TransitionCommitCDCGeneration
		t.TState = &ts
		return nil

	case OpCommitCDCGenerationAdvance:
		var p CommitCDCGenerationAdvancePayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		id := p.GenerationID
		t.CurrentCDCGenerationID = &id
		t.UnpublishedCDCGenerations = append(t.UnpublishedCDCGenerations, p.GenerationID)
		t.NewCDCGenerationDataUUID = nil
		ts := p.NextTState
		t.TState = &ts
		return nil

	case OpBeginCDCGenerationGlobalRequest:
		var p BeginCDCGenerationGlobalRequestPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		kind := topology.GlobalRequestNewCDCGeneration
		t.GlobalRequest = &kind
		t.PendingGlobalRequest = nil
		id := p.DataUUID
		t.NewCDCGenerationDataUUID = &id
		ts := topology.TransitionCommitCDCGeneration
		t.TState = &ts
		return nil

	case OpFinishCDCGenerationGlobalRequest:
		var p FinishCDCGenerationGlobalRequestPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		id := p.GenerationID
		t.CurrentCDCGenerationID = &id
		t.UnpublishedCDCGenerations = append(t.UnpublishedCDCGenerations, p.GenerationID)
		t.NewCDCGenerationDataUUID = nil
		t.GlobalRequest = nil
		t.GlobalRequestID = uuid.UUID{}
		if len(t.TransitionNodes) == 0 {
			t.TState = nil
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown op %q", topology.ErrInvalidRequest, cmd.Op)
	}
}

// takeFrom removes id from whichever of collections contains it first
// and returns the record, for operations that relocate a node between
// the model's disjoint collections.
func takeFrom(id topology.NodeID, collections ...map[topology.NodeID]*topology.ReplicaRecord) (*topology.ReplicaRecord, bool) {
	for _, c := range collections {
		if record, ok := c[id]; ok {
			delete(c, id)
			return record, true
		}
	}
	return nil, false
}

// Snapshot implements raft.FSM. It captures the currently applied
// Topology verbatim; Restore installs it back after a snapshot load.
func (a *Applier) Snapshot() (raft.FSMSnapshot, error) {
	return &topologySnapshot{topology: a.Topology()}, nil
}

// Restore implements raft.FSM.
func (a *Applier) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var t topology.Topology
	if err := json.NewDecoder(rc).Decode(&t); err != nil {
		return fmt.Errorf("decode topology snapshot: %w", err)
	}
	a.mu.Lock()
	a.current = &t
	ch := a.changed
	a.changed = make(chan struct{})
	a.mu.Unlock()
	close(ch)
	return nil
}

type topologySnapshot struct {
	topology *topology.Topology
}

func (s *topologySnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.topology); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *topologySnapshot) Release() {}
