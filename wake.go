package gatelimit

import "time"

// wakeState schedules the next promotion opportunity of a limiter
// partition that has parked waiters. Window and bucket strategies
// arm it so that queued requests are promoted at the next rollover,
// segment expiry or refill even when no further traffic arrives.
//
// The timer callback takes the same per-limiter lock as the
// request-triggered paths, so there is never a second
// synchronization path racing on the counters.
//
// All methods must be called with the owning limiter's lock held.
type wakeState struct {
	WakeTimer *time.Timer

	// WakeAt is the absolute millisecond timestamp the timer is
	// armed for, meaningful only while WakeTimer is non-nil.
	WakeAt uint64
}

// arm schedules fn to run at the absolute millisecond timestamp at.
// An already armed timer firing at or before at is kept.
func (w *wakeState) arm(after timerFactory, at uint64, now uint64, fn func()) {
	if w.WakeTimer != nil {
		if w.WakeAt <= at {
			return
		}
		w.WakeTimer.Stop()
	}

	var delay time.Duration
	if at > now {
		delay = time.Millisecond * time.Duration(at-now)
	}

	w.WakeAt = at
	w.WakeTimer = after(delay, fn)
}

// disarm cancels any pending wakeup.
func (w *wakeState) disarm() {
	if w.WakeTimer != nil {
		w.WakeTimer.Stop()
		w.WakeTimer = nil
	}
}
