package gatelimit

import (
	"context"
	"sync"
	"time"
)

// tokenBucketLimiter bounds burst size while allowing steady
// replenishment: an initial burst may consume up to the full
// capacity, after which throughput settles at tokensPerPeriod per
// replenishment period, independent of arrival clustering.
//
// Refill runs lazily on each call by crediting whole elapsed periods
// only. The last-refill mark advances by the consumed periods, never
// to the current instant, so the fractional remainder of a period
// carries forward and the schedule never drifts.
type tokenBucketLimiter struct {
	Logger Logger
	Config *effectiveConfig

	// Time functions can be overridden for testing.
	TimeFunc  func() time.Time
	AfterFunc timerFactory

	// a lock provides thread safety.
	Lock sync.Mutex

	// we keep all runtime data for request keys
	// in a map indexed by partition key
	States map[string]*tokenBucketState
}

type tokenBucketState struct {
	wakeState

	// Tokens never exceeds the configured capacity.
	Tokens uint64

	// LastRefill is the start of the current replenishment period.
	LastRefill uint64

	Waiters *waitQueue
}

func (instance *tokenBucketLimiter) getState(key string, t uint64) *tokenBucketState {
	existing, exists := instance.States[key]
	if exists {
		return existing
	}

	// the bucket starts at full capacity, allowing an immediate burst.
	newState := &tokenBucketState{
		Tokens:     instance.Config.Capacity,
		LastRefill: t,
		Waiters:    newWaitQueue(instance.Config.QueueLimit),
	}

	instance.States[key] = newState
	return newState
}

// TryAcquire asks for the request to be admitted right now.
func (instance *tokenBucketLimiter) TryAcquire(requestKey string) Decision {
	now := instance.TimeFunc()
	t := uint64(now.UnixMilli())
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key, t)
	instance.refill(st, t)

	if st.Tokens >= 1 {
		st.Tokens--
		return admittedDecision(newLease(nil))
	}

	nextRefillAt := st.LastRefill + instance.Config.PeriodSize

	if !st.Waiters.Full() {
		entry := newQueueEntry(key, now)
		st.Waiters.Push(entry)
		st.arm(instance.AfterFunc, nextRefillAt, t, func() { instance.onWake(key) })
		return queuedDecision(entry, instance.evictWaiter)
	}

	reason := ReasonLimitExceeded
	if instance.Config.QueueLimit > 0 {
		reason = ReasonQueueFull
	}
	return rejectedWithRetryDecision(reason, time.Millisecond*time.Duration(nextRefillAt-t))
}

func (instance *tokenBucketLimiter) Acquire(ctx context.Context, requestKey string) (*Lease, error) {
	return acquire(ctx, instance, requestKey)
}

// refill credits the whole periods elapsed since the last refill,
// capped at capacity, and promotes queued entries into the fresh
// tokens in FIFO order.
func (instance *tokenBucketLimiter) refill(st *tokenBucketState, t uint64) {
	if t > st.LastRefill {
		periods := (t - st.LastRefill) / instance.Config.PeriodSize
		if periods > 0 {
			// with at least one token per period, capacity periods
			// are always enough to fill the bucket. checking first
			// also keeps the credit arithmetic from overflowing.
			if periods >= instance.Config.Capacity {
				st.Tokens = instance.Config.Capacity
			} else {
				credited := periods * instance.Config.TokensPerPeriod
				if credited >= instance.Config.Capacity-st.Tokens {
					st.Tokens = instance.Config.Capacity
				} else {
					st.Tokens += credited
				}
			}
			st.LastRefill += periods * instance.Config.PeriodSize
		}
	}

	for st.Tokens >= 1 {
		entry := st.Waiters.PopOldest()
		if entry == nil {
			break
		}
		st.Tokens--
		entry.resolve(newLease(nil), nil)
	}
}

// onWake runs in the timer callback when the next replenishment
// period of a partition with parked waiters completes.
func (instance *tokenBucketLimiter) onWake(key string) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st, exists := instance.States[key]
	if !exists {
		return
	}
	st.WakeTimer = nil

	t := uint64(instance.TimeFunc().UnixMilli())
	instance.refill(st, t)

	if st.Waiters.Len() > 0 {
		st.arm(instance.AfterFunc, st.LastRefill+instance.Config.PeriodSize, t, func() { instance.onWake(key) })
	}
}

func (instance *tokenBucketLimiter) evictWaiter(entry *queueEntry) {
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

func (instance *tokenBucketLimiter) Stats(requestKey string) Stats {
	t := uint64(instance.TimeFunc().UnixMilli())
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key, t)
	instance.refill(st, t)

	return Stats{
		Tokens:     st.Tokens,
		QueueDepth: st.Waiters.Len(),
	}
}

func (instance *tokenBucketLimiter) probe(key string, t uint64) (bool, time.Duration, bool) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key), t)
	instance.refill(st, t)

	if st.Tokens >= 1 {
		return true, 0, false
	}
	retryIn := time.Millisecond * time.Duration(st.LastRefill+instance.Config.PeriodSize-t)
	return false, retryIn, true
}

func (instance *tokenBucketLimiter) commit(key string, t uint64) *Lease {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key), t)
	instance.refill(st, t)
	if st.Tokens >= 1 {
		st.Tokens--
	}

	return newLease(nil)
}
