// Package admission rejects callers that exceed their request allowance. The
// allowance is a fixed window counter in the shared store, so the limit holds
// across every replica of a service.
package admission

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/datatrails/go-datatrails-coordination/environment"
	"github.com/datatrails/go-datatrails-coordination/errhandling"
	"github.com/datatrails/go-datatrails-coordination/logger"
	"github.com/datatrails/go-datatrails-coordination/redis"
	"github.com/datatrails/go-datatrails-coordination/tenantid"
)

const (
	MaxRequestsEnv   = "RATELIMIT_MAX_REQUESTS"
	WindowSecondsEnv = "RATELIMIT_WINDOW_SECONDS"

	DefaultMaxRequests   = 100
	DefaultWindowSeconds = 60

	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"

	forwardedForHeader = "X-Forwarded-For"
	organizationKey    = "org"
	addressKey         = "ip"

	unavailableRetryAfter = time.Second
)

var ErrRateLimited = errors.New("rate limit exceeded")

type Logger = logger.Logger

// Limiter is satisfied by *redis.RateLimiter.
type Limiter interface {
	Check(ctx context.Context, key string, maxRequests int64, window time.Duration) (redis.RateLimit, error)
}

// KeyFunc names the caller a request is counted against.
type KeyFunc func(*http.Request) string

// CallerKey counts authenticated requests against their organization and
// anonymous ones against the client address.
func CallerKey(r *http.Request) string {
	if org := tenantid.GetOrganizationIDFromHeader(r.Header); org != "" {
		return organizationKey + ":" + org
	}
	return addressKey + ":" + clientAddress(r)
}

func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get(forwardedForHeader); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type Middleware struct {
	log         Logger
	limiter     Limiter
	maxRequests int64
	window      time.Duration
	keyFunc     KeyFunc
}

type Option func(*Middleware)

func WithKeyFunc(f KeyFunc) Option {
	return func(m *Middleware) {
		if f != nil {
			m.keyFunc = f
		}
	}
}

func New(log Logger, limiter Limiter, maxRequests int64, window time.Duration, opts ...Option) *Middleware {
	m := &Middleware{
		log:         log,
		limiter:     limiter,
		maxRequests: maxRequests,
		window:      window,
		keyFunc:     CallerKey,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFromEnv reads the allowance from RATELIMIT_MAX_REQUESTS and
// RATELIMIT_WINDOW_SECONDS.
func NewFromEnv(log Logger, limiter Limiter, opts ...Option) *Middleware {
	maxRequests := environment.GetIntWithDefault(MaxRequestsEnv, DefaultMaxRequests)
	window := environment.GetDurationWithDefault(WindowSecondsEnv, time.Second, DefaultWindowSeconds*time.Second)
	return New(log, limiter, int64(maxRequests), window, opts...)
}

// Handler counts every request before passing it to next. Callers over their
// allowance get 429 with Retry-After. If the store is unavailable the request
// is refused with 503 and a one second Retry-After.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := m.log.FromContext(r.Context())
		defer log.Close()

		key := m.keyFunc(r)
		rl, err := m.limiter.Check(r.Context(), key, m.maxRequests, m.window)
		if err != nil {
			log.Infof("admission: %s not checked: %v", key, err)
			if errors.Is(err, redis.ErrBackingStoreUnavailable) {
				err = errhandling.NewTransientErrorAfter(err, unavailableRetryAfter)
			}
			errhandling.WriteError(w, err)
			return
		}

		h := w.Header()
		h.Set(HeaderLimit, strconv.FormatInt(rl.Limit, 10))
		h.Set(HeaderRemaining, strconv.FormatInt(rl.Remaining, 10))
		h.Set(HeaderReset, strconv.FormatInt(rl.ResetSeconds(), 10))

		if !rl.Allowed {
			log.Debugf("admission: %s over %d per %v", key, m.maxRequests, m.window)
			h.Set(HeaderRetry, strconv.FormatInt(rl.ResetSeconds(), 10))
			errhandling.WriteError(w, errhandling.NewErrorStatus(ErrRateLimited, http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}
