package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"
)

const (
	defaultScanCount = 500
)

// Cache is a cache-aside cache over the backing store. Entries are derived
// copies of data held elsewhere: losing one only costs a recompute.
//
// Consistency comes from explicit invalidation on every write (Delete,
// DeleteByPattern, Invalidate). The TTL is a safety net against a missed
// invalidation.
type Cache struct {
	store     *Store
	ttl       time.Duration
	scanCount int64
}

type CacheOption func(*Cache)

// WithCacheTTL overrides the configured default expiry.
func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithScanCount sets the COUNT hint used when enumerating keys for pattern
// deletion.
func WithScanCount(count int64) CacheOption {
	return func(c *Cache) {
		if count > 0 {
			c.scanCount = count
		}
	}
}

func NewCache(store *Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:     store,
		ttl:       store.cfg.CacheTTL(),
		scanCount: defaultScanCount,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultCacheTTL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Log() Logger {
	return c.store.Log()
}

// TTL is the default expiry of entries.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) storageKey(key string) string {
	return c.store.key(cachePrefix, key)
}

// Get returns the cached value for key. A missing key returns ok == false and
// no error. The value is Structured when the stored text is JSON and Raw
// otherwise, so a string that happens to be JSON, such as "123", comes back
// Structured with Data() == float64(123). Read string and []byte values with
// GetAs, or use Value.Text, to get exactly what was set.
func (c *Cache) Get(ctx context.Context, key string) (Value, bool, error) {
	log := c.Log().FromContext(ctx)
	defer log.Close()

	k := c.storageKey(key)

	client, done, err := c.store.use("cache.Get")
	if err != nil {
		return Value{}, false, err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.cache.Get")
	defer span.Finish()

	text, err := client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		c.store.observer.CacheLookup(false)
		log.Debugf("Get: miss %s", k)
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, storeError(err, k)
	}
	c.store.observer.CacheLookup(true)
	log.Debugf("Get: hit %s", k)
	return decodeValue(text), true, nil
}

// Set stores value under key. Strings are stored as-is, anything else is JSON
// encoded. A ttl <= 0 applies the cache default.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	log := c.Log().FromContext(ctx)
	defer log.Close()

	text, err := encodeValue(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	k := c.storageKey(key)

	client, done, err := c.store.use("cache.Set")
	if err != nil {
		return err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.cache.Set")
	defer span.Finish()

	if err = client.Set(ctx, k, text, ttl).Err(); err != nil {
		return storeError(err, k)
	}
	log.Debugf("Set: %s ttl %v", k, ttl)
	return nil
}

// Delete removes the given keys. Missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	client, done, err := c.store.use("cache.Delete")
	if err != nil {
		return err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.cache.Delete")
	defer span.Finish()

	storageKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		storageKeys = append(storageKeys, c.storageKey(key))
	}
	_, err = deleteKeys(ctx, client, storageKeys)
	return err
}

// DeleteByPattern removes every cached key matching the glob pattern and
// returns how many were removed. The keys are enumerated first and then
// deleted in one batch. This is not atomic: a key written between the two
// steps can survive. Invalidation here is best effort by contract.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) (int64, error) {
	return c.deleteByPatterns(ctx, pattern)
}

// Invalidate removes everything cached for the listed entity types of an
// organization. Mutating business operations call this with the namespaces
// they affect, e.g. Invalidate(ctx, org, "products", "dashboard").
func (c *Cache) Invalidate(ctx context.Context, organizationID string, entityTypes ...string) (int64, error) {
	log := c.Log().FromContext(ctx).WithOrganization(organizationID)
	defer log.Close()

	patterns := make([]string, 0, 2*len(entityTypes))
	for _, entityType := range entityTypes {
		patterns = append(patterns, CachePatterns(organizationID, entityType)...)
	}
	n, err := c.deleteByPatterns(ctx, patterns...)
	if err != nil {
		return n, err
	}
	log.Debugf("Invalidate: %v removed %d", entityTypes, n)
	return n, nil
}

func (c *Cache) deleteByPatterns(ctx context.Context, patterns ...string) (int64, error) {
	log := c.Log().FromContext(ctx)
	defer log.Close()

	if len(patterns) == 0 {
		return 0, nil
	}

	client, done, err := c.store.use("cache.DeleteByPattern")
	if err != nil {
		return 0, err
	}
	defer done()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.cache.DeleteByPattern")
	defer span.Finish()

	prefix := escapeGlob(c.storageKey(""))

	seen := map[string]struct{}{}
	var keys []string
	for _, pattern := range patterns {
		found, err := scanKeys(ctx, client, prefix+pattern, c.scanCount)
		if err != nil {
			return 0, err
		}
		for _, k := range found {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	n, err := deleteKeys(ctx, client, keys)
	if err != nil {
		return 0, err
	}
	log.Debugf("DeleteByPattern: %v matched %d removed %d", patterns, len(keys), n)
	return n, nil
}

// GetAs is the typed form of Cache.Get. A stored value that does not decode as
// T is corrupt and reported as absent.
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T

	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	t, err := decodeAs[T](v)
	if err != nil {
		c.Log().Debugf("GetAs: treating %s as absent: %v", key, err)
		return zero, false, nil
	}
	return t, true, nil
}

// GetOrCompute returns the cached value for key or, on a miss, the result of
// factory, which is then cached for ttl (ttl <= 0 applies the default).
// Factory errors are returned and nothing is cached.
//
// Concurrent misses on the same key each call factory. The last write wins;
// all writers computed from the same source so any of them is acceptable.
func GetOrCompute[T any](
	ctx context.Context, c *Cache, key string, factory func(context.Context) (T, error), ttl time.Duration,
) (T, error) {
	var zero T

	cached, ok, err := GetAs[T](ctx, c, key)
	if err != nil {
		return zero, err
	}
	if ok {
		return cached, nil
	}

	value, err := factory(ctx)
	if err != nil {
		return zero, err
	}
	if err = c.Set(ctx, key, value, ttl); err != nil {
		return zero, err
	}
	return value, nil
}

type scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// masterIterator is implemented by *redis.ClusterClient. SCAN only walks the
// node it is sent to, so in cluster mode every master is scanned.
type masterIterator interface {
	ForEachMaster(ctx context.Context, fn func(ctx context.Context, client *redis.Client) error) error
}

func scanKeys(ctx context.Context, client Client, match string, count int64) ([]string, error) {
	cluster, ok := client.(masterIterator)
	if !ok {
		return scanNode(ctx, client, match, count)
	}

	var mu sync.Mutex
	var keys []string
	err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		found, err := scanNode(ctx, node, match, count)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, found...)
		mu.Unlock()
		return nil
	})
	return keys, err
}

func scanNode(ctx context.Context, node scanner, match string, count int64) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := node.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return nil, storeError(err, "scan "+match)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// deleteKeys removes keys in one pipelined batch. One DEL per key keeps the
// batch valid in cluster mode where keys may live in different slots.
func deleteKeys(ctx context.Context, client Client, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cmds := make([]*redis.IntCmd, 0, len(keys))
	_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			cmds = append(cmds, pipe.Del(ctx, k))
		}
		return nil
	})
	if err != nil {
		return 0, storeError(err, "delete")
	}
	var n int64
	for _, cmd := range cmds {
		n += cmd.Val()
	}
	return n, nil
}
