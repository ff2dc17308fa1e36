package gatelimit

import (
	"context"
	"sync"
	"time"
)

// fixedWindowLimiter counts admitted requests in a fixed-size time
// bucket aligned to the epoch. The interval is half open: a request
// arriving exactly at windowStart+window belongs to the new window.
// This produces the classic burst-at-boundary effect, which the
// sliding window strategy mitigates.
type fixedWindowLimiter struct {
	Logger Logger
	Config *effectiveConfig

	// Time functions can be overridden for testing.
	TimeFunc  func() time.Time
	AfterFunc timerFactory

	// a lock provides thread safety.
	Lock sync.Mutex

	// we keep all runtime data for request keys
	// in a map indexed by partition key
	States map[string]*fixedWindowState
}

type fixedWindowState struct {
	wakeState

	// WindowStart advances by whole window lengths only,
	// so boundaries never drift.
	WindowStart uint64

	// Count stores the admissions counted in the current window.
	Count uint64

	Waiters *waitQueue
}

func (instance *fixedWindowLimiter) getState(key string, t uint64) *fixedWindowState {
	existing, exists := instance.States[key]
	if exists {
		return existing
	}

	newState := &fixedWindowState{
		WindowStart: (t / instance.Config.WindowSize) * instance.Config.WindowSize,
		Waiters:     newWaitQueue(instance.Config.QueueLimit),
	}

	instance.States[key] = newState
	return newState
}

// TryAcquire asks for the request to be admitted right now.
func (instance *fixedWindowLimiter) TryAcquire(requestKey string) Decision {
	now := instance.TimeFunc()
	t := uint64(now.UnixMilli())
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key, t)
	instance.rollWindow(st, t)

	if st.Count < instance.Config.Limit {
		st.Count++
		return admittedDecision(newLease(nil))
	}

	windowEnd := st.WindowStart + instance.Config.WindowSize

	if !st.Waiters.Full() {
		entry := newQueueEntry(key, now)
		st.Waiters.Push(entry)
		st.arm(instance.AfterFunc, windowEnd, t, func() { instance.onWake(key) })
		return queuedDecision(entry, instance.evictWaiter)
	}

	if instance.Config.QueueLimit > 0 {
		return rejectedWithRetryDecision(ReasonQueueFull, time.Millisecond*time.Duration(windowEnd-t))
	}
	return rejectedWithRetryDecision(ReasonLimitExceeded, time.Millisecond*time.Duration(windowEnd-t))
}

func (instance *fixedWindowLimiter) Acquire(ctx context.Context, requestKey string) (*Lease, error) {
	return acquire(ctx, instance, requestKey)
}

// rollWindow advances the window when t falls outside of it, catching
// up multiple elapsed windows atomically, and promotes queued entries
// in FIFO order up to the fresh limit. Entries that do not fit stay
// queued for the next rollover.
func (instance *fixedWindowLimiter) rollWindow(st *fixedWindowState, t uint64) {
	windowEnd := st.WindowStart + instance.Config.WindowSize
	if t < windowEnd {
		return
	}

	elapsed := t - st.WindowStart
	st.WindowStart += (elapsed / instance.Config.WindowSize) * instance.Config.WindowSize
	st.Count = 0

	for st.Count < instance.Config.Limit {
		entry := st.Waiters.PopOldest()
		if entry == nil {
			break
		}
		st.Count++
		entry.resolve(newLease(nil), nil)
	}
}

// onWake runs in the timer callback when a window with parked
// waiters rolls over.
func (instance *fixedWindowLimiter) onWake(key string) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st, exists := instance.States[key]
	if !exists {
		return
	}
	st.WakeTimer = nil

	t := uint64(instance.TimeFunc().UnixMilli())
	instance.rollWindow(st, t)

	if st.Waiters.Len() > 0 {
		st.arm(instance.AfterFunc, st.WindowStart+instance.Config.WindowSize, t, func() { instance.onWake(key) })
	}
}

func (instance *fixedWindowLimiter) evictWaiter(entry *queueEntry) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st, exists := instance.States[entry.key]
	if !exists {
		return
	}
	st.Waiters.Evict(entry)
	if st.Waiters.Len() == 0 {
		st.disarm()
	}
}

func (instance *fixedWindowLimiter) Stats(requestKey string) Stats {
	t := uint64(instance.TimeFunc().UnixMilli())
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key, t)
	instance.rollWindow(st, t)

	return Stats{
		WindowCount: st.Count,
		QueueDepth:  st.Waiters.Len(),
	}
}

func (instance *fixedWindowLimiter) probe(key string, t uint64) (bool, time.Duration, bool) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key), t)
	instance.rollWindow(st, t)

	if st.Count < instance.Config.Limit {
		return true, 0, false
	}
	retryIn := time.Millisecond * time.Duration(st.WindowStart+instance.Config.WindowSize-t)
	return false, retryIn, true
}

func (instance *fixedWindowLimiter) commit(key string, t uint64) *Lease {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key), t)
	instance.rollWindow(st, t)
	st.Count++

	return newLease(nil)
}
