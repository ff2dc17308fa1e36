// A request-admission control module for network services.
//
// Features:
//
// - Four admission strategies: fixed window, sliding window, concurrency limiting and token bucket
//
// - Uniform policy abstraction: attach any strategy to a route through a named policy registry
//
// - Bounded FIFO queuing with cooperative, cancellable waiting shared by all strategies
//
// - Explicit permit leases with exactly-once release semantics
//
// - Automatically computed Retry-After hints on rejections where the strategy allows it
//
// - Per-key partitioning (per client, per API key) or global limiting with a single shared counter
//
// - Composite policies combining multiple strategies on a single route
//
// - Thread safe
package gatelimit
