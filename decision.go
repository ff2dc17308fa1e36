package gatelimit

import (
	"context"
	"fmt"
	"time"
)

// Outcome tags the variant of an admission Decision.
type Outcome int

const (
	// OutcomeAdmitted means the request may proceed immediately.
	// The decision carries the lease to release on completion.
	OutcomeAdmitted Outcome = iota

	// OutcomeQueued means the request is holding a queue slot.
	// The caller must call Wait to suspend until promotion or eviction.
	OutcomeQueued

	// OutcomeRejected means the request must not proceed.
	// The decision may carry a retry-after hint.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "admitted"
	case OutcomeQueued:
		return "queued"
	case OutcomeRejected:
		return "rejected"
	}
	return "unknown"
}

// RejectReason qualifies a rejected Decision.
type RejectReason string

const (
	// ReasonLimitExceeded means the strategy's permit budget is exhausted.
	ReasonLimitExceeded RejectReason = "limit exceeded"

	// ReasonQueueFull means the strategy would have queued the request
	// but its waiting area is at capacity.
	ReasonQueueFull RejectReason = "queue full"
)

// Decision holds the result of an admission request.
//
// Per-request conditions (limit exceeded, queue full) are expected,
// recoverable outcomes surfaced as Decision values, never as errors:
// the calling layer decides the user-visible response.
type Decision struct {
	Outcome Outcome

	// Lease is set when Outcome is OutcomeAdmitted.
	Lease *Lease

	// Reason is set when Outcome is OutcomeRejected.
	Reason RejectReason

	// RetryAfter is the amount of time the client should wait before
	// resubmitting, valid only when RetryAfterAvailable is true.
	RetryAfter          time.Duration
	RetryAfterAvailable bool

	// WaitStarted is set when Outcome is OutcomeQueued.
	WaitStarted time.Time

	entry *queueEntry
	evict func(*queueEntry)
}

// Admitted reports whether the request may proceed immediately.
func (d Decision) Admitted() bool {
	return d.Outcome == OutcomeAdmitted
}

// Queued reports whether the request is waiting for a permit.
func (d Decision) Queued() bool {
	return d.Outcome == OutcomeQueued
}

// Rejected reports whether the request must not proceed.
func (d Decision) Rejected() bool {
	return d.Outcome == OutcomeRejected
}

func (d Decision) String() string {
	switch d.Outcome {
	case OutcomeAdmitted:
		return "Decision[Admitted]"
	case OutcomeQueued:
		return "Decision[Queued]"
	default:
		if d.RetryAfterAvailable {
			return fmt.Sprintf("Decision[Rejected, RetryAfter: %v ms]", d.RetryAfter.Milliseconds())
		}
		return "Decision[Rejected]"
	}
}

// Wait suspends the caller until the decision settles into a lease.
//
// For an admitted decision it returns the lease immediately.
// For a rejected decision it returns a RequestRejected error carrying
// the rejection reason and retry hint.
// For a queued decision it parks on the queue entry's completion signal
// until the owning limiter promotes the entry, or until ctx is done,
// in which case the entry is evicted from the queue exactly once and
// the context error is returned. A promotion racing with cancellation
// cannot leak capacity: the lease that won the race is handed back.
func (d Decision) Wait(ctx context.Context) (*Lease, error) {
	switch d.Outcome {
	case OutcomeAdmitted:
		return d.Lease, nil
	case OutcomeRejected:
		return nil, &RequestRejected{
			Reason:              d.Reason,
			RetryAfter:          d.RetryAfter,
			RetryAfterAvailable: d.RetryAfterAvailable,
		}
	}

	select {
	case res := <-d.entry.ready:
		return res.lease, res.err
	case <-ctx.Done():
	}

	d.evict(d.entry)

	// the eviction may have lost the race against a concurrent
	// promotion. in that case a lease was already fired on the
	// completion signal and must be handed back.
	select {
	case res := <-d.entry.ready:
		if res.lease != nil {
			_ = res.lease.Release()
		}
	default:
	}

	return nil, ctx.Err()
}

func admittedDecision(lease *Lease) Decision {
	return Decision{
		Outcome: OutcomeAdmitted,
		Lease:   lease,
	}
}

func queuedDecision(entry *queueEntry, evict func(*queueEntry)) Decision {
	return Decision{
		Outcome:     OutcomeQueued,
		WaitStarted: entry.enqueuedAt,
		entry:       entry,
		evict:       evict,
	}
}

func rejectedDecision(reason RejectReason) Decision {
	return Decision{
		Outcome: OutcomeRejected,
		Reason:  reason,
	}
}

func rejectedWithRetryDecision(reason RejectReason, retryAfter time.Duration) Decision {
	return Decision{
		Outcome:             OutcomeRejected,
		Reason:              reason,
		RetryAfter:          retryAfter,
		RetryAfterAvailable: true,
	}
}
