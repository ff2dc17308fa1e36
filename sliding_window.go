package gatelimit

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// slidingWindowLimiter computes the trailing-window admission count
// by summing fixed-size sub-segments, smoothing the burst-at-boundary
// effect of the fixed window strategy. The segment granularity trades
// accounting cost against approximation smoothness: more segments
// approach a true sliding log at the cost of more state.
type slidingWindowLimiter struct {
	Logger Logger
	Config *effectiveConfig

	// Time functions can be overridden for testing.
	TimeFunc  func() time.Time
	AfterFunc timerFactory

	// a lock provides thread safety.
	Lock sync.Mutex

	// we keep all runtime data for request keys
	// in a map indexed by partition key
	States map[string]*slidingWindowState
}

type slidingWindowState struct {
	wakeState

	// a deque implementation is used to represent the sliding window
	// as we need to operate on both sides of the window.
	// The front segment covers the current instant, the back one
	// is the oldest still intersecting the trailing window.
	Segments *deque.Deque

	// Total stores the trailing-window count aggregated from the segments.
	Total uint64

	Waiters *waitQueue
}

// windowSegment represents a single segment the trailing window is divided in
type windowSegment struct {
	StartTime uint64
	Count     uint64
}

func (instance *slidingWindowLimiter) getState(key string) *slidingWindowState {
	existing, exists := instance.States[key]
	if exists {
		return existing
	}

	// call setMinCapacity on queue
	// to avoid dynamically resizing and improve performance.
	minQueueCapacity := int(instance.Config.NumSegments) * 2

	newState := &slidingWindowState{
		Segments: deque.New(minQueueCapacity, minQueueCapacity),
		Waiters:  newWaitQueue(instance.Config.QueueLimit),
	}

	instance.States[key] = newState
	return newState
}

func (instance *slidingWindowLimiter) locateSegmentStartTime(t uint64) uint64 {
	return (t / instance.Config.WindowSegmentSize) * instance.Config.WindowSegmentSize
}

// TryAcquire asks for the request to be admitted right now.
func (instance *slidingWindowLimiter) TryAcquire(requestKey string) Decision {
	now := instance.TimeFunc()
	t := uint64(now.UnixMilli())
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key)
	instance.rotateWindow(st, t)

	if st.Total < instance.Config.Limit {
		st.Total++
		st.Segments.Front().(*windowSegment).Count++
		return admittedDecision(newLease(nil))
	}

	if !st.Waiters.Full() {
		entry := newQueueEntry(key, now)
		st.Waiters.Push(entry)
		if wakeAt, ok := instance.nextEvictionTime(st); ok {
			st.arm(instance.AfterFunc, wakeAt, t, func() { instance.onWake(key) })
		}
		return queuedDecision(entry, instance.evictWaiter)
	}

	reason := ReasonLimitExceeded
	if instance.Config.QueueLimit > 0 {
		reason = ReasonQueueFull
	}
	if retryIn, ok := instance.computeRetryAfter(st, t); ok {
		return rejectedWithRetryDecision(reason, retryIn)
	}
	return rejectedDecision(reason)
}

func (instance *slidingWindowLimiter) Acquire(ctx context.Context, requestKey string) (*Lease, error) {
	return acquire(ctx, instance, requestKey)
}

// rotateWindow ensures the front segment covers the current instant,
// evicts segments whose entire span precedes the trailing boundary
// (never partially, so admitted counts stay deterministic and
// monotonic) and promotes queued entries into the freed room.
func (instance *slidingWindowLimiter) rotateWindow(st *slidingWindowState, t uint64) {
	segmentStartTime := instance.locateSegmentStartTime(t)

	if st.Segments.Len() == 0 || st.Segments.Front().(*windowSegment).StartTime != segmentStartTime {
		st.Segments.PushFront(&windowSegment{
			StartTime: segmentStartTime,
		})
	}

	if t >= instance.Config.WindowSize {
		trailingBoundary := t - instance.Config.WindowSize
		for st.Segments.Len() > 1 {
			back := st.Segments.Back().(*windowSegment)
			if back.StartTime+instance.Config.WindowSegmentSize > trailingBoundary {
				break
			}
			st.Segments.PopBack()
			st.Total -= back.Count
		}
	}

	currentSegment := st.Segments.Front().(*windowSegment)
	for st.Total < instance.Config.Limit {
		entry := st.Waiters.PopOldest()
		if entry == nil {
			break
		}
		st.Total++
		currentSegment.Count++
		entry.resolve(newLease(nil), nil)
	}
}

// nextEvictionTime computes the instant the oldest segment falls
// fully outside of the trailing window, which is the earliest
// moment a queued entry can be promoted.
func (instance *slidingWindowLimiter) nextEvictionTime(st *slidingWindowState) (uint64, bool) {
	qLen := st.Segments.Len()
	for i := 0; i < qLen; i++ {
		segment := st.Segments.At(qLen - i - 1).(*windowSegment)
		if segment.Count > 0 {
			return segment.StartTime + instance.Config.WindowSegmentSize + instance.Config.WindowSize, true
		}
	}
	return 0, false
}

// Compute the RetryAfter hint
// by checking how many segments we need to expire
// before having room for one more admission
// and how long it will take for those segments
// to get outside of the trailing window bound.
func (instance *slidingWindowLimiter) computeRetryAfter(st *slidingWindowState, t uint64) (time.Duration, bool) {
	toFree := int64(1) + int64(st.Total) - int64(instance.Config.Limit)
	if toFree <= 0 {
		return 0, false
	}

	qLen := st.Segments.Len()
	mostRecentRemovalTime := uint64(0)

	for i := 0; i < qLen && toFree > 0; i++ {
		segment := st.Segments.At(qLen - i - 1).(*windowSegment)
		if segment.Count > 0 {
			toFree -= int64(segment.Count)
		}
		mostRecentRemovalTime = segment.StartTime + instance.Config.WindowSegmentSize
	}

	if mostRecentRemovalTime == 0 || toFree > 0 {
		// this should never happen.
		instance.Logger.Warning("could not compute RetryAfter because of inconsistent segment data")
		return 0, false
	}

	// the segment ending at mostRecentRemovalTime leaves the
	// trailing window one full window length after its end.
	availableAt := mostRecentRemovalTime + instance.Config.WindowSize
	if availableAt <= t {
		return 0, false
	}

	return time.Millisecond * time.Duration(availableAt-t), true
}

// onWake runs in the timer callback when the oldest loaded segment
// of a partition with parked waiters expires.
func (instance *slidingWindowLimiter) onWake(key string) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st, exists := instance.States[key]
	if !exists {
		return
	}
	st.WakeTimer = nil

	t := uint64(instance.TimeFunc().UnixMilli())
	instance.rotateWindow(st, t)

	if st.Waiters.Len() > 0 {
		if wakeAt, ok := instance.nextEvictionTime(st); ok {
			st.arm(instance.AfterFunc, wakeAt, t, func() { instance.onWake(key) })
		}
	}
}

func (instance *slidingWindowLimiter) evictWaiter(entry *queueEntry) {
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

func (instance *slidingWindowLimiter) Stats(requestKey string) Stats {
	t := uint64(instance.TimeFunc().UnixMilli())
	key := partitionKey(requestKey)

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(key)
	instance.rotateWindow(st, t)

	qLen := st.Segments.Len()
	segments := make([]uint64, qLen)
	for i := 0; i < qLen; i++ {
		segments[i] = st.Segments.At(i).(*windowSegment).Count
	}

	return Stats{
		WindowTotal:    st.Total,
		WindowSegments: segments,
		QueueDepth:     st.Waiters.Len(),
	}
}

func (instance *slidingWindowLimiter) probe(key string, t uint64) (bool, time.Duration, bool) {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key))
	instance.rotateWindow(st, t)

	if st.Total < instance.Config.Limit {
		return true, 0, false
	}
	if retryIn, ok := instance.computeRetryAfter(st, t); ok {
		return false, retryIn, true
	}
	return false, 0, false
}

func (instance *slidingWindowLimiter) commit(key string, t uint64) *Lease {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	st := instance.getState(partitionKey(key))
	instance.rotateWindow(st, t)
	st.Total++
	st.Segments.Front().(*windowSegment).Count++

	return newLease(nil)
}
