package gatelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// KeyFunc extracts the request key an incoming HTTP request is
// accounted under.
type KeyFunc func(r *http.Request) string

// MiddlewareOptions configures the HTTP admission middleware.
type MiddlewareOptions struct {

	// Registry holds the named policies. Required.
	Registry *Registry

	// Policy is the name of the policy every request passing through
	// this middleware is checked against. Required.
	Policy string

	// KeyFn extracts the request key. When nil, DefaultKeyFunc is
	// used with the KeyHeader and TrustXForwardedFor settings below.
	KeyFn KeyFunc

	// KeyHeader names a header whose value, when present, is used as
	// the request key before any address-based fallback.
	KeyHeader string

	// TrustXForwardedFor enables keying on the first address of the
	// X-Forwarded-For header. Enable only behind a trusted proxy.
	TrustXForwardedFor bool

	// QueueTimeout bounds how long a queued request is held before
	// being rejected. Zero means queued requests wait as long as the
	// request context allows.
	QueueTimeout time.Duration

	// RejectStatus is the status code returned on rejection.
	// Defaults to 429 Too Many Requests.
	RejectStatus int
}

// DefaultKeyFunc keys requests on the configured header when present,
// then on the first X-Forwarded-For address when trusted, then on the
// remote address.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// the first entry is the original client address
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware returns an http.Handler wrapper that admits requests
// through the named policy before passing them on.
//
// Admitted requests proceed immediately and release their lease when
// the handler returns. Queued requests are held until promotion, the
// queue timeout, or request cancellation. Rejected requests receive
// the reject status, with a Retry-After header when the policy
// computed a hint.
func Middleware(opts MiddlewareOptions) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			decision, err := opts.Registry.TryAcquire(opts.Policy, key)
			if err != nil {
				// unknown policy is a configuration defect, not a
				// client condition.
				opts.Registry.Logger.Error("admission middleware failed: " + err.Error())
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if decision.Rejected() {
				rejectRequest(w, decision, opts.RejectStatus)
				return
			}

			if decision.Queued() {
				ctx := r.Context()
				if opts.QueueTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, opts.QueueTimeout)
					defer cancel()
				}

				lease, waitErr := decision.Wait(ctx)
				if waitErr != nil {
					rejectRequest(w, decision, opts.RejectStatus)
					return
				}
				defer func() { _ = lease.Release() }()

				next.ServeHTTP(w, r)
				return
			}

			defer func() { _ = decision.Lease.Release() }()
			next.ServeHTTP(w, r)
		})
	}
}

func rejectRequest(w http.ResponseWriter, decision Decision, status int) {
	if decision.RetryAfterAvailable {
		seconds := int64(math.Ceil(decision.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	http.Error(w, http.StatusText(status), status)
}
