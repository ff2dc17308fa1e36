package gatelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketStartsAtFullCapacity(t *testing.T) {
	ti := buildTokenBucket(t, 50, 10, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 50)

	rejected := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, rejected.Rejected())
	assert.Equal(t, ReasonLimitExceeded, rejected.Reason)
	assert.True(t, rejected.RetryAfterAvailable)
	assert.Equal(t, int64(10000), rejected.RetryAfter.Milliseconds())

	assert.Equal(t, uint64(0), ti.Instance.Stats(defaultTestKey).Tokens)
}

func TestTokenBucketCreditsWholePeriodsOnly(t *testing.T) {
	ti := buildTokenBucket(t, 50, 10, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 50)

	// one millisecond short of a period: no credit yet
	ti.TimeTravel(9999)
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Rejected())

	ti.TimeTravel(1)
	admitN(t, ti, defaultTestKey, 10)
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Rejected())
}

func TestTokenBucketFractionalPeriodCarriesForward(t *testing.T) {
	ti := buildTokenBucket(t, 50, 10, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 50)

	// goto 1015000: one whole period credited, the extra 5000ms
	// must count toward the next period, not be discarded
	ti.TimeTravel(15000)
	admitN(t, ti, defaultTestKey, 10)

	rejected := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, rejected.Rejected())
	assert.Equal(t, int64(5000), rejected.RetryAfter.Milliseconds())

	ti.TimeTravel(5000) // goto 1020000, second period completes
	admitN(t, ti, defaultTestKey, 10)
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Rejected())
}

func TestTokenBucketRefillSchedulesDoNotDrift(t *testing.T) {
	ti := buildTokenBucket(t, 50, 10, 10*time.Second, 0)
	internal := ti.Instance.(*tokenBucketLimiter)

	admitN(t, ti, defaultTestKey, 50)

	// probe at odd instants: the refill mark must stay on the
	// period grid anchored at the first arrival
	ti.TimeTravel(10300)
	_ = ti.Instance.Stats(defaultTestKey)
	assert.Equal(t, uint64(1010000), internal.States[defaultTestKey].LastRefill)

	ti.TimeTravel(10400)
	_ = ti.Instance.Stats(defaultTestKey)
	assert.Equal(t, uint64(1020000), internal.States[defaultTestKey].LastRefill)
}

func TestTokenBucketCapsAtCapacity(t *testing.T) {
	ti := buildTokenBucket(t, 50, 10, 10*time.Second, 0)

	admitN(t, ti, defaultTestKey, 50)

	// a very long idle stretch must not accumulate beyond capacity
	ti.TimeTravel(1000 * 10000)
	assert.Equal(t, uint64(50), ti.Instance.Stats(defaultTestKey).Tokens)
}

func TestTokenBucketQueuePromotionOnRefill(t *testing.T) {
	ti := buildTokenBucket(t, 2, 2, 10*time.Second, 2)

	admitN(t, ti, defaultTestKey, 2)

	queued1 := ti.Instance.TryAcquire(defaultTestKey)
	queued2 := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, queued1.Queued())
	assert.True(t, queued2.Queued())

	overflow := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, overflow.Rejected())
	assert.Equal(t, ReasonQueueFull, overflow.Reason)

	// the refill wake must promote both waiters with no new traffic
	ti.TimeTravel(10000)

	lease1, err1 := queued1.Wait(context.Background())
	lease2, err2 := queued2.Wait(context.Background())
	assert.Nil(t, err1)
	assert.Nil(t, err2)
	assert.NotNil(t, lease1)
	assert.NotNil(t, lease2)

	stats := ti.Instance.Stats(defaultTestKey)
	assert.Equal(t, uint64(0), stats.Tokens)
	assert.Equal(t, 0, stats.QueueDepth)
}

func TestTokenBucketWaitCancellation(t *testing.T) {
	ti := buildTokenBucket(t, 1, 1, 10*time.Second, 1)

	admitN(t, ti, defaultTestKey, 1)

	queued := ti.Instance.TryAcquire(defaultTestKey)
	assert.True(t, queued.Queued())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := queued.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// the refilled token goes to fresh traffic, not to the ghost
	ti.TimeTravel(10000)
	assert.True(t, ti.Instance.TryAcquire(defaultTestKey).Admitted())
}
