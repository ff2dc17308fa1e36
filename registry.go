package gatelimit

import (
	"context"
	"fmt"
	"sync"
)

// Registry maps named policies to configured limiter instances.
//
// The request-handling boundary looks up a policy by name and asks it
// for an admission decision. Registration happens once at startup;
// resolving an unregistered name is a configuration defect that
// should fail the process during startup validation, not a
// per-request condition in a correctly configured system.
type Registry struct {
	Logger Logger

	lock     sync.RWMutex
	policies map[string]Limiter
	metrics  *Metrics
}

// RegistryOption customizes a Registry at construction.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by the registry.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) { r.Logger = logger }
}

// WithMetrics makes the registry observe every decision on the
// given metrics collector.
func WithMetrics(metrics *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = metrics }
}

// NewRegistry returns an empty policy registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	out := &Registry{
		Logger:   &defaultLogger{},
		policies: make(map[string]Limiter),
	}
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// Register binds the limiter to the given policy name.
// It fails if the name is already registered.
func (r *Registry) Register(name string, limiter Limiter) error {
	if name == "" {
		return fmt.Errorf("policy name must not be empty")
	}
	if limiter == nil {
		return fmt.Errorf("policy %q has no limiter", name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.policies[name]; exists {
		return &PolicyAlreadyRegistered{Name: name}
	}

	r.policies[name] = limiter
	r.Logger.Debug(fmt.Sprintf("registered admission policy %q", name))
	return nil
}

// MustRegister binds the limiter to the given policy name
// and panics on error. Intended for static startup wiring.
func (r *Registry) MustRegister(name string, limiter Limiter) {
	if err := r.Register(name, limiter); err != nil {
		panic(err)
	}
}

// Resolve returns the limiter registered under the given name.
func (r *Registry) Resolve(name string) (Limiter, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	limiter, exists := r.policies[name]
	if !exists {
		return nil, &PolicyNotFound{Name: name}
	}
	return limiter, nil
}

// PolicyNames returns the registered policy names, useful for
// startup validation logging.
func (r *Registry) PolicyNames() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]string, 0, len(r.policies))
	for name := range r.policies {
		out = append(out, name)
	}
	return out
}

// TryAcquire resolves the named policy and asks it for an admission
// decision for the given request key.
//
// The returned error is non-nil only for the configuration-defect
// class (unknown policy); per-request conditions are carried by the
// Decision value.
func (r *Registry) TryAcquire(policyName string, requestKey string) (Decision, error) {
	limiter, err := r.Resolve(policyName)
	if err != nil {
		return Decision{}, err
	}

	decision := limiter.TryAcquire(requestKey)
	if r.metrics != nil {
		r.metrics.observeDecision(policyName, decision)
	}
	return decision, nil
}

// Acquire resolves the named policy and admits the request,
// suspending cooperatively while queued until a permit becomes
// available or ctx is done.
func (r *Registry) Acquire(ctx context.Context, policyName string, requestKey string) (*Lease, error) {
	decision, err := r.TryAcquire(policyName, requestKey)
	if err != nil {
		return nil, err
	}
	return decision.Wait(ctx)
}
