package gatelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CompositeConfig holds the configuration for a composite limiter
// combining multiple admission strategies into a single policy.
type CompositeConfig struct {

	// Limiters is a required parameter holding the configurations
	// of the single limiters you want to compose together.
	//
	// Composed limiters must not queue (QueueLimit must be 0):
	// queuing suspends on a single strategy's waiting area and has
	// no meaningful aggregate across members.
	Limiters []Config

	// Time-related functions can be overridden to allow for easier
	// testing. You should usually not override these.
	TimeFunc func() time.Time

	// you can pass your custom logger if you'd like to
	// but it's not required
	Logger Logger
}

// compositeMember is the internal capability composed limiters
// expose so that a multi-strategy admission can run as a two-phase
// probe-then-commit and never leak partial admissions.
type compositeMember interface {
	Limiter
	probe(key string, t uint64) (bool, time.Duration, bool)
	commit(key string, t uint64) *Lease
}

// compositeLimiter admits a request only when every member strategy
// does. All members are probed first; only if all of them have room
// is the admission committed on each, so a member rejection never
// leaves counted events behind on the others.
type compositeLimiter struct {
	Logger Logger

	// Time functions can be overridden for testing.
	TimeFunc func() time.Time

	// the composite lock serializes the probe/commit sequence.
	// members keep their own locks but are private to this
	// instance, so no other path can interleave between phases.
	Lock sync.Mutex

	Limiters []compositeMember
}

// NewComposite returns an instance of gatelimit.Limiter
// built with the specified configuration, combining multiple
// admission strategies into a single instance.
//
// A non-nil error is returned in case of invalid configuration.
func NewComposite(config *CompositeConfig) (Limiter, error) {
	effectiveLogger := config.Logger
	if effectiveLogger == nil {
		effectiveLogger = &defaultLogger{}
	}

	if len(config.Limiters) < 1 {
		return nil, errors.New("composite limiter requires at least one component configuration")
	}

	out := compositeLimiter{
		Logger:   effectiveLogger,
		TimeFunc: config.TimeFunc,
	}
	if out.TimeFunc == nil {
		out.TimeFunc = time.Now
	}

	subTimeFunc := func() time.Time {
		return out.TimeFunc()
	}

	limiters := make([]compositeMember, len(config.Limiters))
	for i, memberConfig := range config.Limiters {
		if memberConfig.TimeFunc != nil {
			return nil, errors.New("cannot specify TimeFunc on a composed limiter. Please specify it on the parent limiter instead")
		}
		memberConfig.TimeFunc = subTimeFunc

		if memberConfig.AfterFunc != nil {
			return nil, errors.New("cannot specify AfterFunc on a composed limiter. Please specify it on the parent limiter instead")
		}

		if memberConfig.QueueLimit != 0 {
			return nil, errors.New("cannot specify QueueLimit on a composed limiter: composed limiters must not queue")
		}

		if memberConfig.Logger == nil {
			memberConfig.Logger = effectiveLogger
		}

		limiter, err := New(&memberConfig)
		if err != nil {
			return nil, fmt.Errorf("error building limiter at index %d: %w", i, err)
		}
		limiters[i] = limiter.(compositeMember)
	}

	out.Limiters = limiters

	return &out, nil
}

// TryAcquire asks every member for the request to be admitted.
//
// First all the members are probed; only if all of them have room is
// the admission committed on every member. Otherwise the request is
// rejected and, if at least one of the rejecting members computed a
// retry hint, the output carries the highest hint of them all.
func (instance *compositeLimiter) TryAcquire(requestKey string) Decision {
	t := uint64(instance.TimeFunc().UnixMilli())

	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	allAdmitted := true
	highestWaitTime := time.Duration(0)

	for _, limiter := range instance.Limiters {
		ok, retryIn, retryAvailable := limiter.probe(requestKey, t)
		if !ok {
			allAdmitted = false

			if retryAvailable && retryIn > highestWaitTime {
				highestWaitTime = retryIn
			}
		}
	}

	if !allAdmitted {
		if highestWaitTime > 0 {
			return rejectedWithRetryDecision(ReasonLimitExceeded, highestWaitTime)
		}
		return rejectedDecision(ReasonLimitExceeded)
	}

	leases := make([]*Lease, len(instance.Limiters))
	for i, limiter := range instance.Limiters {
		leases[i] = limiter.commit(requestKey, t)
	}

	return admittedDecision(newLease(func() {
		for i := len(leases) - 1; i >= 0; i-- {
			_ = leases[i].Release()
		}
	}))
}

func (instance *compositeLimiter) Acquire(ctx context.Context, requestKey string) (*Lease, error) {
	return acquire(ctx, instance, requestKey)
}

// Stats on a composite limiter has no single meaningful strategy
// snapshot; use MemberStats for the per-member breakdown.
func (instance *compositeLimiter) Stats(requestKey string) Stats {
	return Stats{}
}

// MemberStats returns the runtime snapshot of every composed
// limiter, in configuration order.
func (instance *compositeLimiter) MemberStats(requestKey string) []Stats {
	instance.Lock.Lock()
	defer instance.Lock.Unlock()

	out := make([]Stats, len(instance.Limiters))
	for i, limiter := range instance.Limiters {
		out[i] = limiter.Stats(requestKey)
	}
	return out
}
