// Package streaming defines the narrow external collaborator contract
// (§6) the coordinator invokes to physically move range data between
// nodes, plus an in-memory double used by tests and single-binary demo
// deployments. The real streaming/storage subsystem is explicitly out of
// scope (§1) — the core only ever calls Stream and waits for it to
// finish.
package streaming

import (
	"context"

	"github.com/google/uuid"

	"github.com/ringtopo/ringtopo/pkg/topology"
)

// Direction names which way a range transfer moves data relative to the
// node the coordinator is driving an operation for.
type Direction string

const (
	// DirectionInbound means ranges are being streamed onto the target
	// node (a joiner receiving its new ring slice, or a rebuilding node
	// refilling from a source datacenter).
	DirectionInbound Direction = "inbound"
	// DirectionOutbound means ranges are being streamed off the target
	// node onto its successors (a leaving or dead node's data being
	// redistributed).
	DirectionOutbound Direction = "outbound"
)

// Plan describes one stream_ranges invocation: the ranges to move, which
// direction, and the peers acting as sources or destinations.
type Plan struct {
	NodeID    topology.NodeID
	Direction Direction
	Ranges    topology.RingSlice
	// Peers are the other nodes participating in the transfer: successors
	// receiving data for an outbound plan, or source replicas for an
	// inbound one (the chosen datacenter's replicas, for a rebuild).
	Peers []topology.NodeID
	// SessionID fences the transfer to one coordinator-driven operation,
	// the same session_id minted onto Topology for this purpose (§3).
	SessionID uuid.UUID
}

// Streaming is the external collaborator contract (§6): "stream(ranges,
// source_or_destination, session_id) -> Future<done>".
type Streaming interface {
	// Stream moves the data described by plan and blocks until it is
	// durably in place on its destination(s), or ctx is cancelled.
	Stream(ctx context.Context, plan Plan) error
}

// Local is an in-process Streaming double: it records every plan it was
// asked to execute and "completes" streams instantly (or returns a
// pre-seeded error), the way the teacher's in-memory test doubles behave
// for collaborators that have no complete reference implementation in
// this pack.
type Local struct {
	plans chan Plan
	fail  map[topology.NodeID]error
}

// NewLocal returns a Local double with no injected failures.
func NewLocal() *Local {
	return &Local{plans: make(chan Plan, 64), fail: make(map[topology.NodeID]error)}
}

// FailNext arranges for the next Stream call targeting id to return err
// instead of succeeding; the failure is one-shot. The RPC server and
// streaming tests use it. The coordinator wraps any Stream error as the
// retryable stream_failed, so a FailNext failure there is retried rather
// than rolled back.
func (l *Local) FailNext(id topology.NodeID, err error) {
	l.fail[id] = err
}

// Stream implements Streaming.
func (l *Local) Stream(ctx context.Context, plan Plan) error {
	if err, ok := l.fail[plan.NodeID]; ok {
		delete(l.fail, plan.NodeID)
		return err
	}
	select {
	case l.plans <- plan:
	default:
	}
	return nil
}

// Plans drains and returns every plan recorded so far, for test
// assertions about what the coordinator asked to be streamed.
func (l *Local) Plans() []Plan {
	var out []Plan
	for {
		select {
		case p := <-l.plans:
			out = append(out, p)
		default:
			return out
		}
	}
}
