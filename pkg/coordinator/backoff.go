package coordinator

import "time"

// backoff is a capped doubling delay for retrying coordinator RPCs
// (§4.5 Failure semantics: "retried with exponential backoff as long as
// the operation is still valid"). The spec mandates the policy, not a
// mechanism; this mirrors the explicit, no-jitter-library constants the
// teacher uses for its own Raft timeout tuning (pkg/manager/manager.go's
// raftConfig) rather than pulling in a retry/jitter package none of the
// examples bring in.
type backoff struct {
	delay time.Duration
	max   time.Duration
}

func newBackoff() *backoff {
	return &backoff{delay: 100 * time.Millisecond, max: 30 * time.Second}
}

// Next returns the delay to wait before the next attempt and advances
// the internal state for the attempt after that.
func (b *backoff) Next() time.Duration {
	d := b.delay
	b.delay *= 2
	if b.delay > b.max {
		b.delay = b.max
	}
	return d
}

// Reset returns the backoff to its initial delay. The coordinator's retry
// loops do not call it; each starts from a fresh newBackoff instead.
func (b *backoff) Reset() {
	b.delay = 100 * time.Millisecond
}
