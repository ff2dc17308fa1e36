package gatelimit

import (
	"context"
	"sync"
	"time"
)

// concurrencyLimiter bounds simultaneously in-flight requests.
//
// Unlike the counting strategies, the consumed unit is a held
// resource: releasing the lease is the only path that can promote a
// queued waiter, and a release promotes at most one of them, oldest
// first. Rejections carry no retry hint since concurrency pressure
// is not time-predictable.
type concurrencyLimiter struct {
	Logger Logger
	Config *effectiveConfig

	// Time functions can be overridden for testing.
	TimeFunc func() time.Time

	// a lock provides thread safety.
	Lock sync.Mutex

	// we keep all runtime data for request keys
	// in a map indexed by partition key
	States map[string]*concurrencyState
}

type concurrencyState struct {
	// InFlight never exceeds the configured limit.
	InFlight uint64

	Waiters *waitQueue
}

func (instance *concurrencyLimiter) getState(key string) *concurrencyState {
	existing, exists := instance.States[key]
	if exists {
		return existing
	}

	newState := &concurrencyState{
		Waiters: newWaitQueue(instance.Config.QueueLimit),
	}

	instance.States[key] = newState
	return newState
}

// TryAcquire asks for the request to be admitted right now.
func (instance *concurrencyLimiter) TryAcquire(requestKey string) Decision {
	now := instance.TimeFunc()
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key)

	if st.InFlight < instance.Config.Limit {
		st.InFlight++
		return admittedDecision(instance.newSlotLease(key))
	}

	if !st.Waiters.Full() {
		entry := newQueueEntry(key, now)
		st.Waiters.Push(entry)
		return queuedDecision(entry, instance.evictWaiter)
	}

	if instance.Config.QueueLimit > 0 {
		return rejectedDecision(ReasonQueueFull)
	}
	return rejectedDecision(ReasonLimitExceeded)
}

func (instance *concurrencyLimiter) Acquire(ctx context.Context, requestKey string) (*Lease, error) {
	return acquire(ctx, instance, requestKey)
}

// newSlotLease returns a lease whose release hands the in-flight
// slot back to the partition. The lease's own exactly-once guard
// ensures a double release can never double-credit the slot.
func (instance *concurrencyLimiter) newSlotLease(key string) *Lease {
	return newLease(func() {
		instance.releaseSlot(key)
	})
}

// releaseSlot decrements the in-flight count and promotes the oldest
// waiter, if any. Exactly one waiter is promoted per release: the
// freed slot is granted under the lock before anyone else can see it,
// so concurrent releases can never double-grant a slot.
func (instance *concurrencyLimiter) releaseSlot(key string) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st, exists := instance.States[key]
	if !exists || st.InFlight == 0 {
		instance.Logger.Error("released a concurrency slot on a partition with no in-flight requests")
		return
	}

	st.InFlight--

	if st.InFlight < instance.Config.Limit {
		if entry := st.Waiters.PopOldest(); entry != nil {
			st.InFlight++
			entry.resolve(instance.newSlotLease(key), nil)
		}
	}
}

func (instance *concurrencyLimiter) evictWaiter(entry *queueEntry) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st, exists := instance.States[entry.key]
	if !exists {
		return
	}
	st.Waiters.Evict(entry)
}

func (instance *concurrencyLimiter) Stats(requestKey string) Stats {
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key)

	return Stats{
		InFlight:   st.InFlight,
		QueueDepth: st.Waiters.Len(),
	}
}

func (instance *concurrencyLimiter) probe(key string, t uint64) (bool, time.Duration, bool) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key))
	return st.InFlight < instance.Config.Limit, 0, false
}

func (instance *concurrencyLimiter) commit(key string, t uint64) *Lease {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	resolved := partitionKey(key)
	st := instance.getState(resolved)
	st.InFlight++

	return instance.newSlotLease(resolved)
}
