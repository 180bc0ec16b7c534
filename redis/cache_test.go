package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetAbsent(t *testing.T) {
	observer := &recordingObserver{}
	s, _ := testStore(t, WithObserver(observer))
	c := NewCache(s)

	v, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Value{}, v)
	assert.Equal(t, 1, observer.snapshot().misses)
}

func TestCacheRoundTrip(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	p := product{ID: "p1", Name: "Widget", Quantity: 3, Tags: []string{"blue"}}
	key := CacheKey("org-1", "products", "p1")
	require.NoError(t, c.Set(ctx, key, p, 0))

	assert.True(t, mr.Exists("test:cache:org:org-1:products:p1"))
	assert.Equal(t, DefaultCacheTTL, mr.TTL("test:cache:org:org-1:products:p1"))

	actual, ok, err := GetAs[product](ctx, c, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, actual)

	v, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, v.IsStructured())
}

func TestCacheStringsAreVerbatim(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "greeting", "hello world", time.Minute))
	stored, err := mr.Get("test:cache:greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello world", stored)

	actual, ok, err := GetAs[string](ctx, c, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello world", actual)

	// JSON looking text is still returned as set
	require.NoError(t, c.Set(ctx, "count", "123", time.Minute))
	count, ok, err := GetAs[string](ctx, c, "count")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "123", count)

	v, ok, err := c.Get(ctx, "count")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "123", v.Text())
	assert.Equal(t, float64(123), v.Data())
}

func TestCacheBytesRoundTrip(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "blob", []byte("hello"), time.Minute))
	stored, err := mr.Get("test:cache:blob")
	require.NoError(t, err)
	assert.Equal(t, "hello", stored)

	actual, ok, err := GetAs[[]byte](ctx, c, "blob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), actual)
}

func TestGetOrComputeBytes(t *testing.T) {
	s, _ := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	calls := 0
	factory := func(context.Context) ([]byte, error) {
		calls++
		return []byte(`{"signed":true}`), nil
	}

	for i := 0; i < 3; i++ {
		actual, err := GetOrCompute(ctx, c, "receipt", factory, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"signed":true}`), actual)
	}
	assert.Equal(t, 1, calls)
}

func TestCacheExpiry(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s, WithCacheTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, 0))
	require.NoError(t, c.Set(ctx, "short", 1, 10*time.Second))

	mr.FastForward(11 * time.Second)
	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheRawFallback(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:cache:legacy", "{not json"))

	v, ok, err := c.Get(ctx, "legacy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Raw, v.Kind())
	assert.Equal(t, "{not json", v.Text())

	// corrupt for a structured reader is a miss
	_, ok, err = GetAs[product](ctx, c, "legacy")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheDelete(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))

	require.NoError(t, c.Delete(ctx, "a", "b", "never-set"))
	assert.False(t, mr.Exists("test:cache:a"))
	assert.False(t, mr.Exists("test:cache:b"))

	require.NoError(t, c.Delete(ctx))
}

func TestCacheDeleteByPattern(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s, WithScanCount(2))
	ctx := context.Background()

	for _, k := range []string{"user:1", "user:2", "user:3", "team:1"} {
		require.NoError(t, c.Set(ctx, k, "x", 0))
	}
	// outside the cache namespace, must survive
	require.NoError(t, mr.Set("test:ratelimit:user:1", "5"))
	require.NoError(t, mr.Set("other:cache:user:1", "x"))

	n, err := c.DeleteByPattern(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.True(t, mr.Exists("test:cache:team:1"))
	assert.True(t, mr.Exists("test:ratelimit:user:1"))
	assert.True(t, mr.Exists("other:cache:user:1"))

	n, err = c.DeleteByPattern(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCacheInvalidate(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	keys := []string{
		CacheKey("org-1", "products"),
		CacheKey("org-1", "products", "p1"),
		CacheKey("org-1", "products", "p2"),
		CacheKey("org-1", "dashboard", "sales", "7d"),
		CacheKey("org-1", "productsarchive"),
		CacheKey("org-1", "orders", "o1"),
		CacheKey("org-2", "products", "p1"),
	}
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, k, "x", 0))
	}

	n, err := c.Invalidate(ctx, "org-1", "products", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	assert.True(t, mr.Exists("test:cache:org:org-1:productsarchive"))
	assert.True(t, mr.Exists("test:cache:org:org-1:orders:o1"))
	assert.True(t, mr.Exists("test:cache:org:org-2:products:p1"))
	assert.False(t, mr.Exists("test:cache:org:org-1:products"))
}

func TestGetOrCompute(t *testing.T) {
	observer := &recordingObserver{}
	s, _ := testStore(t, WithObserver(observer))
	c := NewCache(s)
	ctx := context.Background()

	calls := 0
	factory := func(context.Context) (product, error) {
		calls++
		return product{ID: "p1", Name: "Widget"}, nil
	}

	first, err := GetOrCompute(ctx, c, "p1", factory, 0)
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, c, "p1", factory, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	counts := observer.snapshot()
	assert.Equal(t, 1, counts.hits)
	assert.Equal(t, 1, counts.misses)
}

func TestGetOrComputeFactoryError(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	boom := errors.New("source down")
	_, err := GetOrCompute(ctx, c, "k", func(context.Context) (int, error) {
		return 0, boom
	}, 0)
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("test:cache:k"))
}

func TestGetOrComputeRecomputesCorrupt(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:cache:k", "garbage"))

	v, err := GetOrCompute(ctx, c, "k", func(context.Context) (product, error) {
		return product{ID: "fresh"}, nil
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v.ID)

	stored, err := mr.Get("test:cache:k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"fresh","name":"","quantity":0,"tags":null}`, stored)
}

func TestGetOrComputeConcurrentMisses(t *testing.T) {
	s, _ := testStore(t)
	c := NewCache(s)
	ctx := context.Background()

	var calls atomic.Int64
	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrCompute(ctx, c, "shared", func(context.Context) (int, error) {
				calls.Add(1)
				return 42, nil
			}, 0)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	// not de-duplicated, but every caller sees a valid value
	assert.GreaterOrEqual(t, calls.Load(), int64(1))
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestGetOrComputeUnavailable(t *testing.T) {
	s, mr := testStore(t)
	c := NewCache(s)
	mr.Close()

	_, err := GetOrCompute(context.Background(), c, "k", func(context.Context) (int, error) {
		return 1, nil
	}, 0)
	require.ErrorIs(t, err, ErrBackingStoreUnavailable)
}
