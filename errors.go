package gatelimit

import (
	"fmt"
	"time"
)

var (
	// ErrPolicyNotFound is a sentinel for the error that
	// occurs when resolving a policy name that was never registered.
	// In a correctly configured system this is a startup-time
	// configuration defect, not a per-request condition.
	ErrPolicyNotFound = &PolicyNotFound{}

	// ErrPolicyAlreadyRegistered is a sentinel for the error that
	// occurs when registering two policies under the same name.
	ErrPolicyAlreadyRegistered = &PolicyAlreadyRegistered{}

	// ErrLeaseReleased is a sentinel for the error that
	// occurs when releasing a permit lease more than once.
	// A double release is a programming defect in the calling layer:
	// it is reported loudly instead of silently corrupting counters.
	ErrLeaseReleased = &LeaseAlreadyReleased{}

	// ErrRequestRejected is a sentinel for the error that
	// occurs when waiting on a decision that was rejected outright.
	ErrRequestRejected = &RequestRejected{}
)

// PolicyNotFound is returned by Registry.Resolve and Registry.TryAcquire
// when the requested policy name is not registered.
type PolicyNotFound struct {
	Name string
}

func (e *PolicyNotFound) Error() string {
	return fmt.Sprintf("PolicyNotFound: no policy is registered under the name %q", e.Name)
}

func (e *PolicyNotFound) Is(tgt error) bool {
	_, ok := tgt.(*PolicyNotFound)
	return ok
}

// PolicyAlreadyRegistered is returned by Registry.Register
// when the given name is already bound to a limiter.
type PolicyAlreadyRegistered struct {
	Name string
}

func (e *PolicyAlreadyRegistered) Error() string {
	return fmt.Sprintf("PolicyAlreadyRegistered: a policy is already registered under the name %q", e.Name)
}

func (e *PolicyAlreadyRegistered) Is(tgt error) bool {
	_, ok := tgt.(*PolicyAlreadyRegistered)
	return ok
}

// LeaseAlreadyReleased is returned by Lease.Release
// when the lease was already released once.
type LeaseAlreadyReleased struct {
}

func (e *LeaseAlreadyReleased) Error() string {
	return "LeaseAlreadyReleased: the permit lease was already released"
}

func (e *LeaseAlreadyReleased) Is(tgt error) bool {
	_, ok := tgt.(*LeaseAlreadyReleased)
	return ok
}

// RequestRejected is returned by Decision.Wait and Limiter.Acquire
// when the request was not admitted.
//
// The RetryAfter field carries the suggested wait time when the
// rejecting strategy can compute one (RetryAfterAvailable is true).
type RequestRejected struct {
	Reason              RejectReason
	RetryAfter          time.Duration
	RetryAfterAvailable bool
}

func (e *RequestRejected) Error() string {
	if e.RetryAfterAvailable {
		return fmt.Sprintf("RequestRejected: the request can't be admitted (%v), retry in %v ms", e.Reason, e.RetryAfter.Milliseconds())
	}
	return fmt.Sprintf("RequestRejected: the request can't be admitted (%v)", e.Reason)
}

func (e *RequestRejected) Is(tgt error) bool {
	_, ok := tgt.(*RequestRejected)
	return ok
}
