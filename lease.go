package gatelimit

import "sync/atomic"

// Lease represents a held admission slot.
//
// It is exclusively owned by the caller until explicitly released.
// Release must be called on every exit path, including error paths,
// to avoid permanently leaking capacity: prefer a deferred call
// right after a successful acquisition.
//
// For counting strategies (fixed window, sliding window, token bucket)
// releasing is a no-op since the consumed unit is a counted event,
// not a held resource. For the concurrency strategy releasing
// decrements the in-flight count and may unblock a queued waiter.
//
// A second Release on the same lease does not touch limiter state
// and reports a LeaseAlreadyReleased error.
type Lease struct {
	released  int32
	onRelease func()
}

func newLease(onRelease func()) *Lease {
	return &Lease{onRelease: onRelease}
}

// Release gives the admission slot back to the owning limiter.
//
// It is safe to call from any goroutine. Exactly the first call
// takes effect; subsequent calls return ErrLeaseReleased.
func (l *Lease) Release() error {
	if !atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		return &LeaseAlreadyReleased{}
	}
	if l.onRelease != nil {
		l.onRelease()
	}
	return nil
}

// Released reports whether the lease was already released.
func (l *Lease) Released() bool {
	return atomic.LoadInt32(&l.released) == 1
}
