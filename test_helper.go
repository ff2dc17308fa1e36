package gatelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const defaultTestKey = "test"

// testClock replaces the wall clock and the timer factory with a
// manually driven fake so that window rollovers, segment expiries and
// refills happen deterministically under test control.
type testClock struct {
	CurrentTime uint64
	Timers      []*capturedTimer
}

type capturedTimer struct {
	DueAt uint64
	Fn    func()
	fired bool
}

func newTestClock() *testClock {
	return &testClock{CurrentTime: 1000000}
}

func (c *testClock) timeFunc() time.Time {
	return time.UnixMilli(int64(c.CurrentTime))
}

func (c *testClock) afterFunc(d time.Duration, f func()) *time.Timer {
	// the returned handle is inert: callbacks run only when the
	// test clock travels past their due time.
	handle := time.NewTimer(time.Hour)
	handle.Stop()

	c.Timers = append(c.Timers, &capturedTimer{
		DueAt: c.CurrentTime + uint64(d.Milliseconds()),
		Fn:    f,
	})
	return handle
}

// TimeTravel advances the clock by diff milliseconds, running the
// timer callbacks that come due on the way, in due order, with the
// clock positioned at each callback's due time.
func (c *testClock) TimeTravel(diff int64) {
	target := uint64(int64(c.CurrentTime) + diff)

	for {
		var next *capturedTimer
		for _, timer := range c.Timers {
			if timer.fired || timer.DueAt > target {
				continue
			}
			if next == nil || timer.DueAt < next.DueAt {
				next = timer
			}
		}
		if next == nil {
			break
		}

		next.fired = true
		if next.DueAt > c.CurrentTime {
			c.CurrentTime = next.DueAt
		}
		next.Fn()
	}

	c.CurrentTime = target
}

func (c *testClock) TimeSet(to uint64) {
	c.TimeTravel(int64(to) - int64(c.CurrentTime))
}

func (c *testClock) AssertCurrentTime(t *testing.T, expected uint64) {
	assert.Equal(t, expected, c.CurrentTime, "the current time is expected to be %v and is instead %v", expected, c.CurrentTime)
}

type testableLimiter struct {
	*testClock
	Instance Limiter
}

func buildLimiter(t *testing.T, configurer func(config *Config)) *testableLimiter {
	clock := newTestClock()

	config := Config{
		TimeFunc:  clock.timeFunc,
		AfterFunc: clock.afterFunc,
		Logger:    NewNoOpLogger(),
	}

	if configurer != nil {
		configurer(&config)
	}

	instance, err := New(&config)

	if t != nil {
		assert.Nil(t, err)
		assert.NotNil(t, instance)
	}

	return &testableLimiter{
		testClock: clock,
		Instance:  instance,
	}
}

func buildFixedWindow(t *testing.T, limit uint64, window time.Duration, queueLimit uint64) *testableLimiter {
	return buildLimiter(t, func(config *Config) {
		config.Kind = KindFixedWindow
		config.Limit = limit
		config.Window = window
		config.QueueLimit = queueLimit
	})
}

func buildSlidingWindow(t *testing.T, limit uint64, window time.Duration, segments uint64, queueLimit uint64) *testableLimiter {
	return buildLimiter(t, func(config *Config) {
		config.Kind = KindSlidingWindow
		config.Limit = limit
		config.Window = window
		config.SegmentsPerWindow = segments
		config.QueueLimit = queueLimit
	})
}

func buildConcurrency(t *testing.T, limit uint64, queueLimit uint64) *testableLimiter {
	return buildLimiter(t, func(config *Config) {
		config.Kind = KindConcurrency
		config.Limit = limit
		config.QueueLimit = queueLimit
	})
}

func buildTokenBucket(t *testing.T, capacity uint64, tokensPerPeriod uint64, period time.Duration, queueLimit uint64) *testableLimiter {
	return buildLimiter(t, func(config *Config) {
		config.Kind = KindTokenBucket
		config.Capacity = capacity
		config.TokensPerPeriod = tokensPerPeriod
		config.ReplenishmentPeriod = period
		config.QueueLimit = queueLimit
	})
}

// admitN asserts that the next n admission requests are all admitted.
func admitN(t *testing.T, ti *testableLimiter, key string, n int) {
	for i := 0; i < n; i++ {
		decision := ti.Instance.TryAcquire(key)
		assert.True(t, decision.Admitted(), "request %d of %d was expected to be admitted and was %v instead", i+1, n, decision)
	}
}

type testLogger struct {
	Messages []string
}

func (l *testLogger) Debug(text string) {
	l.Messages = append(l.Messages, fmt.Sprintf("[d] %v", text))
}
func (l *testLogger) Info(text string) {
	l.Messages = append(l.Messages, fmt.Sprintf("[i] %v", text))
}
func (l *testLogger) Warning(text string) {
	l.Messages = append(l.Messages, fmt.Sprintf("[w] %v", text))
}
func (l *testLogger) Error(text string) {
	l.Messages = append(l.Messages, fmt.Sprintf("[e] %v", text))
}
