package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/datatrails/go-datatrails-coordination/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, opts ...StoreOption) (*Store, *miniredis.Miniredis) {
	t.Helper()
	logger.New("NOOP")
	t.Cleanup(logger.OnExit)
	return NewTestStore(t, logger.Sugar, opts...)
}

func TestConnectFailsAfterBoundedRetries(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	url := "redis://" + mr.Addr()
	mr.Close()

	cfg, err := NewConfig(logger.Sugar, url, testNamespace)
	require.NoError(t, err)

	var delays []int
	s := NewStore(cfg, WithConnectRetry(3, func(attempt int) time.Duration {
		delays = append(delays, attempt)
		return time.Millisecond
	}))

	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ErrBackingStoreUnavailable)
	// a delay between each pair of the 3 attempts
	assert.Equal(t, []int{1, 2}, delays)
	assert.False(t, s.Healthy())

	_, err = s.Client()
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)
}

func TestConnectIsHealthy(t *testing.T) {
	s, _ := testStore(t)

	assert.True(t, s.Healthy())
	require.NoError(t, s.Ping(context.Background()))

	client, err := s.Client()
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestOperationsAfterDisconnect(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Disconnect(ctx))
	// idempotent
	require.NoError(t, s.Disconnect(ctx))

	cache := NewCache(s)
	_, _, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)

	_, err = NewRateLimiter(s).Check(ctx, "caller", 10, time.Minute)
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)

	_, _, err = NewLock(s).Acquire(ctx, "resource", 0)
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)

	_, err = NewPubSub(s).Publish(ctx, "events", "hello")
	assert.ErrorIs(t, err, ErrBackingStoreUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrBackingStoreUnavailable)
}

func TestLostConnectionIsUnavailable(t *testing.T) {
	observer := &recordingObserver{}
	s, mr := testStore(t, WithObserver(observer))
	ctx := context.Background()

	cache := NewCache(s)
	require.NoError(t, cache.Set(ctx, "k", "v", 0))

	mr.Close()

	_, _, err := cache.Get(ctx, "k")
	require.ErrorIs(t, err, ErrBackingStoreUnavailable)
	assert.False(t, s.Healthy())
	assert.Equal(t, 1, observer.snapshot().down)
}

func TestCommandErrorIsNotUnavailable(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	// a hash where the cache expects a string
	mr.HSet("test:cache:k", "field", "value")

	_, _, err := NewCache(s).Get(ctx, "k")
	require.ErrorIs(t, err, ErrStoreCommand)
	assert.NotErrorIs(t, err, ErrBackingStoreUnavailable)
	assert.True(t, s.Healthy())
}

func TestStoreKey(t *testing.T) {
	s, _ := testStore(t)
	assert.Equal(t, "test:lock:order/1", s.key(lockPrefix, "order/1"))
	assert.Equal(t, "test", s.Namespace())
}

func TestConnectRefusedIsNotRetried(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	cfg, err := NewConfig(logger.Sugar, "redis://"+mr.Addr(), testNamespace)
	require.NoError(t, err)

	retries := 0
	s := NewStore(cfg, WithConnectRetry(3, func(int) time.Duration {
		retries++
		return time.Millisecond
	}))

	err = s.Connect(context.Background())
	require.ErrorIs(t, err, ErrBackingStoreUnavailable)
	assert.Equal(t, 0, retries)
}
