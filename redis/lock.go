package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	otrace "github.com/opentracing/opentracing-go"
)

// compareAndDelete removes the lock only if it still holds the caller's
// token. It runs as a single script on the server so no other client can
// acquire the lock between the comparison and the delete. go-redis
// automatically uses EVALSHA and falls back to EVAL.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type ScriptRunner interface {
	Run(ctx context.Context, c redis.Scripter, keys []string, args ...any) *redis.Cmd
}

// Lock provides mutual exclusion on a named resource across every process
// sharing the store. A lock is a key created only if absent, holding a token
// unique to the acquiring attempt, with a lease (TTL).
//
// The lease is the only protection against a crashed holder, there is no
// renewal. Work under a lock must finish well within the lease, otherwise a
// second caller may acquire the resource while the first is still running.
type Lock struct {
	store         *Store
	ttl           time.Duration
	releaseRunner ScriptRunner
	newToken      func() string
}

type LockOption func(*Lock)

// WithLockTTL overrides the configured default lease.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(l *Lock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func NewLock(store *Store, opts ...LockOption) *Lock {
	l := &Lock{
		store:         store,
		ttl:           store.cfg.LockTTL(),
		releaseRunner: compareAndDelete,
		newToken:      newLockToken,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultLockTTL
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// newLockToken is unique per acquisition attempt.
func newLockToken() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString())
}

func (l *Lock) Log() Logger {
	return l.store.Log()
}

// TTL is the default lease.
func (l *Lock) TTL() time.Duration {
	return l.ttl
}

func (l *Lock) lockKey(resource string) string {
	return l.store.key(lockPrefix, resource)
}

// Acquire attempts to take the lock on resource for ttl (ttl <= 0 applies the
// default lease). It never waits: if another holder owns the resource ok is
// false and err is nil. On success the returned token is needed to Release.
func (l *Lock) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	log := l.Log().FromContext(ctx)
	defer log.Close()

	if resource == "" {
		return "", false, InvalidArgumentError("resource", "is empty")
	}
	if ttl <= 0 {
		ttl = l.ttl
	}
	k := l.lockKey(resource)

	client, done, err := l.store.use("lock.Acquire")
	if err != nil {
		return "", false, err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.lock.Acquire")
	defer span.Finish()

	token := l.newToken()
	ok, err := client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return "", false, storeError(err, k)
	}
	l.store.observer.LockAcquire(ok)
	if !ok {
		log.Debugf("Acquire: %s is held", k)
		return "", false, nil
	}
	log.Debugf("Acquire: %s lease %v", k, ttl)
	return token, true, nil
}

// Release deletes the lock on resource if, and only if, it is still held with
// token. It returns false when the lease expired or someone else now holds
// the lock, in which case nothing is changed.
func (l *Lock) Release(ctx context.Context, resource string, token string) (bool, error) {
	log := l.Log().FromContext(ctx)
	defer log.Close()

	k := l.lockKey(resource)

	client, done, err := l.store.use("lock.Release")
	if err != nil {
		return false, err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.lock.Release(script)")
	defer span.Finish()

	n, err := l.releaseRunner.Run(ctx, client, []string{k}, token).Int64()
	if err != nil {
		return false, storeError(err, k)
	}
	released := n == 1
	log.Debugf("Release: %s released %v", k, released)
	return released, nil
}

// WithLock runs fn while holding the lock on resource. If the lock is held
// by someone else an error wrapping ErrLockContention is returned at once and
// fn is not called. The lock is released however fn exits, including by
// panic.
func (l *Lock) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(context.Context) error) error {
	_, err := WithLockResult(ctx, l, resource, ttl, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithLockResult is WithLock for critical sections that produce a value.
func WithLockResult[T any](
	ctx context.Context, l *Lock, resource string, ttl time.Duration, fn func(context.Context) (T, error),
) (T, error) {
	var zero T

	token, ok, err := l.Acquire(ctx, resource, ttl)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, ContentionError(resource)
	}

	defer func() {
		// The caller's context may be cancelled by now, the release must
		// still be attempted.
		released, err := l.Release(context.WithoutCancel(ctx), resource, token)
		if err != nil {
			l.Log().Infof("WithLock: release %s failed, lock will expire: %v", resource, err)
			return
		}
		if !released {
			l.Log().Warnf("WithLock: lease on %s expired before release", resource)
		}
	}()

	return fn(ctx)
}
