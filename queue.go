package gatelimit

import (
	"time"

	"github.com/gammazero/deque"
)

// waitResult is delivered on a queue entry's completion signal
// when the entry settles.
type waitResult struct {
	lease *Lease
	err   error
}

// queueEntry is a single request parked in a limiter's waiting area.
//
// The completion signal fires at most once: either the owning limiter
// promotes the entry and delivers a lease, or the entry is evicted
// (caller cancellation) and never woken. The done flag is guarded by
// the owning limiter's lock; the channel is buffered so that resolving
// never blocks the limiter.
type queueEntry struct {
	key        string
	enqueuedAt time.Time
	ready      chan waitResult
	done       bool
}

func newQueueEntry(key string, enqueuedAt time.Time) *queueEntry {
	return &queueEntry{
		key:        key,
		enqueuedAt: enqueuedAt,
		ready:      make(chan waitResult, 1),
	}
}

// resolve settles the entry with the given result.
// Must be called with the owning limiter's lock held.
func (e *queueEntry) resolve(lease *Lease, err error) {
	if e.done {
		// settling twice would wake the waiter twice or leak a lease
		panic("queue entry resolved more than once")
	}
	e.done = true
	e.ready <- waitResult{lease: lease, err: err}
}

// waitQueue is a bounded FIFO holding area for requests awaiting a permit.
//
// A deque implementation is used so evicted entries can be tombstoned
// in place without disturbing the FIFO order of the rest: eviction
// marks the entry done and it is skipped and discarded when it reaches
// the front. The live counter tracks only entries still waiting.
//
// All operations must be performed with the owning limiter's lock held.
type waitQueue struct {
	entries *deque.Deque
	live    int
	limit   int
}

func newWaitQueue(limit uint64) *waitQueue {
	return &waitQueue{
		entries: deque.New(),
		limit:   int(limit),
	}
}

// Len returns the number of live (non evicted) entries.
func (q *waitQueue) Len() int {
	return q.live
}

// Full reports whether another entry would exceed the queue limit.
// A queue with limit 0 is always full: the strategy never queues.
func (q *waitQueue) Full() bool {
	return q.live >= q.limit
}

// Push appends the entry in arrival order.
// It returns false when the queue is at capacity.
func (q *waitQueue) Push(e *queueEntry) bool {
	if q.Full() {
		return false
	}
	q.entries.PushBack(e)
	q.live++
	return true
}

// PopOldest removes and returns the oldest live entry,
// discarding tombstones on the way. Returns nil when empty.
func (q *waitQueue) PopOldest() *queueEntry {
	for q.entries.Len() > 0 {
		e := q.entries.PopFront().(*queueEntry)
		if e.done {
			continue
		}
		q.live--
		return e
	}
	return nil
}

// Evict tombstones a specific entry without waking it.
// It returns false when the entry already settled
// (promotion won the race against the eviction).
func (q *waitQueue) Evict(e *queueEntry) bool {
	if e.done {
		return false
	}
	e.done = true
	q.live--
	return true
}
