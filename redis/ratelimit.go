package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"
)

const (
	// TTL reply for a key that exists without an expiry. go-redis returns the
	// raw reply, not a scaled duration, for this case.
	ttlNoExpiry = time.Duration(-1)
)

// RateLimit is the outcome of a RateLimiter.Check.
type RateLimit struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	// ResetIn is the time left until the current window ends.
	ResetIn time.Duration
}

// ResetSeconds is ResetIn rounded up to whole seconds.
func (r RateLimit) ResetSeconds() int64 {
	return int64((r.ResetIn + time.Second - 1) / time.Second)
}

// RateLimiter is a fixed window request counter per caller key. The count
// resets completely when the window expires, so a caller can burst up to twice
// the limit across a window boundary. Callers needing smoother limiting layer
// a stricter algorithm on top.
type RateLimiter struct {
	store *Store
}

func NewRateLimiter(store *Store) *RateLimiter {
	return &RateLimiter{store: store}
}

func (r *RateLimiter) Log() Logger {
	return r.store.Log()
}

func (r *RateLimiter) counterKey(key string) string {
	return r.store.key(rateLimitPrefix, key)
}

// Check counts one request for key against maxRequests per window.
//
// INCR and TTL are sent in one MULTI/EXEC round trip. The expiry is applied
// only when the counter was just created, or when it has no expiry at all,
// so requests within a window never extend it. A store failure is returned:
// the limiter fails closed.
func (r *RateLimiter) Check(ctx context.Context, key string, maxRequests int64, window time.Duration) (RateLimit, error) {
	log := r.Log().FromContext(ctx)
	defer log.Close()

	if key == "" {
		return RateLimit{}, InvalidArgumentError("key", "is empty")
	}
	if maxRequests <= 0 {
		return RateLimit{}, InvalidArgumentError("maxRequests", "must be positive")
	}
	if window <= 0 {
		return RateLimit{}, InvalidArgumentError("window", "must be positive")
	}

	k := r.counterKey(key)

	client, done, err := r.store.use("ratelimit.Check")
	if err != nil {
		return RateLimit{}, err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.ratelimit.Check")
	defer span.Finish()

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	})
	if err != nil {
		return RateLimit{}, storeError(err, k)
	}

	count := incr.Val()
	resetIn := ttl.Val()

	// count == 1 is the normal first hit. The no expiry case covers a counter
	// left without one, e.g. a crash between INCR and EXPIRE.
	if count == 1 || resetIn == ttlNoExpiry {
		if err = client.Expire(ctx, k, window).Err(); err != nil {
			return RateLimit{}, storeError(err, k)
		}
		resetIn = window
	}
	if resetIn < 0 {
		resetIn = window
	}

	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	result := RateLimit{
		Allowed:   count <= maxRequests,
		Limit:     maxRequests,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
	r.store.observer.RateLimitDecision(result.Allowed)
	log.Debugf("Check: %s count %d limit %d allowed %v reset %v", k, count, maxRequests, result.Allowed, resetIn)
	return result, nil
}
