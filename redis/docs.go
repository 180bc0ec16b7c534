// Package redis is the coordination layer shared by the services. Every
// process connected to the same backing store (a redis server or cluster) sees
// the same state through five components:
//
//  1. Store - the connection. Connect retries a bounded number of times, after
//     which a lost connection is reported to callers and never retried here.
//  2. Cache - cache-aside reads and writes with a default TTL, pattern
//     invalidation and GetOrCompute.
//  3. RateLimiter - fixed window counters. Check is one MULTI/EXEC round trip.
//  4. Lock - mutual exclusion with a lease. Acquire never waits, WithLock
//     always releases.
//  5. PubSub - at-most-once messaging to the subscribers present at publish
//     time.
//
// Keys are namespaced:
//
//	{ns}:cache:{key}
//	{ns}:ratelimit:{caller}
//	{ns}:lock:{resource}
//
// and channels are {ns}:{channel}. Cache keys for tenant scoped entities are
// built with CacheKey so that Invalidate can find them.
//
// Values are stored as text. Strings are stored verbatim and anything else as
// JSON. Reads decode JSON where they can and otherwise hand back the raw text,
// so entries written by other producers are still readable.
//
// Failures are reported with sentinel errors that callers test with
// errors.Is:
//
//	ErrBackingStoreUnavailable - could not talk to the store
//	ErrStoreCommand            - the store rejected the command
//	ErrLockContention          - WithLock found the resource held
//	ErrInvalidArgument         - bad input, nothing was sent
//
// A typical service wires it like this:
//
//	cfg := redis.FromEnvOrFatal(log)
//	store := redis.NewStore(cfg, redis.WithObserver(observers))
//	if err := store.Connect(ctx); err != nil {
//		log.Panicf("backing store: %v", err)
//	}
//	defer store.Disconnect(context.Background())
//
//	cache := redis.NewCache(store)
//	order, err := redis.GetOrCompute(ctx, cache, redis.CacheKey(org, "order", id),
//		func(ctx context.Context) (Order, error) { return db.Order(ctx, org, id) }, 0)
package redis
