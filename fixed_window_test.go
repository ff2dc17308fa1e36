package gatelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindowAdmitsUpToLimit(t *testing.T) {
	ti := buildFixedWindow(t, 3, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 3)

	rejected := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, rejected.Rejected())
	assert.Equal(t, ReasonLimitExceeded, rejected.Reason)
	assert.True(t, rejected.RetryAfterAvailable)
	assert.Equal(t, int64(10000), rejected.RetryAfter.Milliseconds())

	stats := ti.Instance.Stats(defaultTestKey)
	assert.Equal(t, uint64(3), stats.WindowCount)

	// a new window resets the count
	ti.TimeTravel(10000)
	admitN(t, ti, defaultTestKey, 3)
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Rejected())
}

func TestFixedWindowBoundaryIsHalfOpen(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 0)

	// start at t = 1000000, window [1000000, 1010000)
	admitN(t, ti, defaultTestKey, 1)

	ti.TimeTravel(9999) // goto 1009999, still inside
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Rejected())

	ti.TimeTravel(1) // goto 1010000, new window
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Admitted())
}

func TestFixedWindowRetryAfterHint(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 1)

	ti.TimeTravel(3000) // goto 1003000
	rejected := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, rejected.Rejected())
	assert.True(t, rejected.RetryAfterAvailable)
	assert.Equal(t, int64(7000), rejected.RetryAfter.Milliseconds())

	ti.TimeTravel(6999) // goto 1009999
	rejected = ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, rejected.Rejected())
	assert.Equal(t, int64(1), rejected.RetryAfter.Milliseconds())
}

func TestFixedWindowMultiWindowCatchUp(t *testing.T) {
	ti := buildFixedWindow(t, 2, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 2)

	// skip several windows at once. the window start must land on a
	// boundary, never on the arrival instant.
	ti.TimeTravel(34000) // goto 1034000, inside [1030000, 1040000)

	admitN(t, ti, defaultTestKey, 2)

	rejected := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, rejected.Rejected())
	assert.Equal(t, int64(6000), rejected.RetryAfter.Milliseconds())

	internal := ti.Instance.(*fixedWindowLimiter)
	assert.Equal(t, uint64(1030000), internal.States[defaultTestKey].WindowStart)
}

func TestFixedWindowQueuePromotionOnRollover(t *testing.T) {
	ti := buildFixedWindow(t, 2, 10*time.Second, 2)

	admitN(t, ti, defaultTestKey, 2)

	queued1 := ti.Instance.TryAcquire(defaultTestKey)
	queued2 := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, queued1.Queued())
	assert.True(t, queued2.Queued())

	overflow := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, overflow.Rejected())
	assert.Equal(t, ReasonQueueFull, overflow.Reason)
	assert.True(t, overflow.RetryAfterAvailable)

	assert.Equal(t, 2, ti.Instance.Stats(defaultTestKey).QueueDepth)

	// the rollover wake must promote both waiters with no new traffic
	ti.TimeTravel(10000)

	lease1, err1 := queued1.Wait(context.Background())
	lease2, err2 := queued2.Wait(context.Background())
	assert.Nil(t, err1)
	assert.Nil(t, err2)
	assert.NotNil(t, lease1)
	assert.NotNil(t, lease2)

	stats := ti.Instance.Stats(defaultTestKey)
	assert.Equal(t, uint64(2), stats.WindowCount)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestFixedWindowQueuedBeyondLimitStaysQueued(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 3)

	admitN(t, ti, defaultTestKey, 1)

	queued1 := ti.Instance.TryAcquire(defaultTestKey)
	queued2 := ti.Instance.TryAcquire(defaultTestKey)
	queued3 := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, queued1.Queued())
	assert.True(t, queued2.Queued())
	assert.True(t, queued3.Queued())

	// each rollover has room for one promotion, oldest first
	ti.TimeTravel(10000)
	lease, err := queued1.Wait(context.Background())
	assert.Nil(t, err)
	assert.NotNil(t, lease)
	assert.Equal(t, 2, ti.Instance.Stats(defaultTestKey).QueueDepth)

	ti.TimeTravel(10000)
	lease, err = queued2.Wait(context.Background())
	assert.Nil(t, err)
	assert.NotNil(t, lease)
	assert.Equal(t, 1, ti.Instance.Stats(defaultTestKey).QueueDepth)

	ti.TimeTravel(10000)
	lease, err = queued3.Wait(context.Background())
	assert.Nil(t, err)
	assert.NotNil(t, lease)
	assert.Equal(t, 0, ti.Instance.Stats(defaultTestKey).QueueDepth)
}

func TestFixedWindowWaitCancellation(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 2)

	admitN(t, ti, defaultTestKey, 1)

	queued := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, queued.Queued())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lease, err := queued.Wait(ctx)
	assert.Nil(t, lease)
	assert.ErrorIs(t, err, context.Canceled)

	// the cancelled entry left the queue and must never be promoted
	assert.Equal(t, 0, ti.Instance.Stats(defaultTestKey).QueueDepth)

	ti.TimeTravel(10000)
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Admitted())
}

func TestFixedWindowPartitionIsolation(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 0)

	assert.True(t, ti.Instance.TryAcquire("tenant-a").Admitted())
	assert.True(t, ti.Instance.TryAcquire("tenant-b").Admitted())
	assert.True(t, ti.Instance.TryAcquire("tenant-a").Rejected())
	assert.True(t, ti.Instance.TryAcquire("tenant-b").Rejected())

	// an empty key selects the shared global partition
	assert.True(t, ti.Instance.TryAcquire("").Admitted())
	assert.True(t, ti.Instance.TryAcquire("").Rejected())

	internal := ti.Instance.(*fixedWindowLimiter)
	_, hasGlobal := internal.States[globalPartitionKey]
	assert.True(t, hasGlobal)
}

func TestFixedWindowAcquireConvenience(t *testing.T) {
	ti := buildFixedWindow(t, 1, 10*time.Second, 0)

	lease, err := ti.Instance.Acquire(context.Background(), defaultTestKey)
	assert.Nil(t, err)
	assert.NotNil(t, lease)

	_, err = ti.Instance.Acquire(context.Background(), defaultTestKey)
	assert.NotNil(t, err)
	assert.ErrorIs(t, err, ErrRequestRejected)

	var rejected *RequestRejected
	assert.ErrorAs(t, err, &rejected)
	assert.Equal(t, ReasonLimitExceeded, rejected.Reason)
	assert.True(t, rejected.RetryAfterAvailable)
	assert.Equal(t, int64(10000), rejected.RetryAfter.Milliseconds())
}
