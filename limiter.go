package gatelimit

import (
	"context"
	"time"
)

// Limiter is the parent interface for all admission strategies.
//
// You are encouraged to use this type when storing references
// to your limiters in order to allow for easier strategy switch.
type Limiter interface {
	// TryAcquire asks for the request identified by requestKey
	// to be admitted right now, without blocking.
	//
	// The arrival timestamp is taken from the limiter's clock.
	// An empty requestKey selects the global partition (a single
	// shared counter); a non-empty key partitions the limiter
	// state per key, created lazily on first sight.
	//
	// The returned Decision is Admitted, Queued or Rejected.
	// A Queued decision must be settled with Decision.Wait.
	TryAcquire(requestKey string) Decision

	// Acquire asks for the request to be admitted, suspending
	// cooperatively while queued until a permit becomes available
	// or ctx is done.
	//
	// On admission the returned lease must be released exactly once.
	// On rejection the error can be checked with errors.Is against
	// the sentinel gatelimit.ErrRequestRejected or cast to the
	// gatelimit.RequestRejected type for the retry hint.
	Acquire(ctx context.Context, requestKey string) (*Lease, error)

	// Stats returns a snapshot of the runtime accounting for the
	// given request key, useful to evaluate system status and in tests.
	Stats(requestKey string) Stats
}

// Stats holds a point-in-time snapshot of a limiter partition.
// Only the fields meaningful for the limiter's strategy are populated.
type Stats struct {
	// WindowCount holds the admissions counted in the current
	// fixed window.
	WindowCount uint64

	// WindowTotal holds the trailing-window total of a sliding
	// window limiter.
	WindowTotal uint64

	// WindowSegments holds the per-segment admission counts of a
	// sliding window limiter, most recent first.
	WindowSegments []uint64

	// InFlight holds the currently held permits of a concurrency limiter.
	InFlight uint64

	// Tokens holds the available tokens of a token bucket limiter.
	Tokens uint64

	// QueueDepth holds the number of requests parked in the
	// limiter's waiting area.
	QueueDepth int
}

// timerFactory matches the signature of time.AfterFunc and can be
// overridden in the configuration to allow for deterministic testing.
type timerFactory func(d time.Duration, f func()) *time.Timer

// reserved partition key used when the caller does not provide one.
var globalPartitionKey = "$"

func partitionKey(requestKey string) string {
	if requestKey == "" {
		return globalPartitionKey
	}
	return requestKey
}

func acquire(ctx context.Context, limiter Limiter, requestKey string) (*Lease, error) {
	return limiter.TryAcquire(requestKey).Wait(ctx)
}

// BoundLimiter is a simplified proxy that applies admission control
// for a fixed request key, dropping the requestKey input parameter.
//
// It's useful to simplify the code when you are acting on a single
// client, or when you don't need per-key partitioning at all.
//
// Please note that this does not create a new limiter instance,
// it just proxies the calls to the given limiter adding a fixed key.
type BoundLimiter struct {
	proxied    Limiter
	requestKey string
}

// Bind returns a proxy applying the admission control
// for the specified request key.
func Bind(limiter Limiter, requestKey string) *BoundLimiter {
	return &BoundLimiter{
		proxied:    limiter,
		requestKey: requestKey,
	}
}

// Global returns a proxy applying the admission control
// on the limiter's single shared global partition.
func Global(limiter Limiter) *BoundLimiter {
	return &BoundLimiter{
		proxied: limiter,
	}
}

func (b *BoundLimiter) TryAcquire() Decision {
	return b.proxied.TryAcquire(b.requestKey)
}

func (b *BoundLimiter) Acquire(ctx context.Context) (*Lease, error) {
	return b.proxied.Acquire(ctx, b.requestKey)
}

func (b *BoundLimiter) Stats() Stats {
	return b.proxied.Stats(b.requestKey)
}
