package topology

import "errors"

// Error kinds that are both wire- and log-visible (spec §7). Callers
// match against these with errors.Is; the coordinator and RPC layers
// wrap them with fmt.Errorf("...: %w", ...) for context the same way the
// rest of this codebase wraps errors.
var (
	// ErrStaleTopology means a fencing token was older than the callee's
	// fence_version; the caller must refresh its view and retry.
	ErrStaleTopology = errors.New("stale_topology")

	// ErrNotLeader means an RPC was submitted to a non-leader coordinator.
	ErrNotLeader = errors.New("not_leader")

	// ErrBusy means a request was rejected because the topology is
	// already mid-operation with something incompatible.
	ErrBusy = errors.New("busy")

	// ErrInvalidRequest means the request parameters were malformed, e.g.
	// a replace naming a non-existent node.
	ErrInvalidRequest = errors.New("invalid_request")

	// ErrStreamFailed is a transient streaming failure; the coordinator
	// retries.
	ErrStreamFailed = errors.New("stream_failed")

	// ErrBarrierFailed is a transient barrier failure; the coordinator
	// retries.
	ErrBarrierFailed = errors.New("barrier_failed")

	// ErrRolledBack means the operation was aborted and the node was
	// returned to its prior steady state.
	ErrRolledBack = errors.New("rolled_back")

	// ErrFatal means an invariant was violated while applying a
	// committed entry. The process is expected to terminate.
	ErrFatal = errors.New("fatal")
)
