package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-coordination/readiness"
	"github.com/go-redis/redis/v8"
	otrace "github.com/opentracing/opentracing-go"
	"go.uber.org/atomic"
)

const (
	keySeparator = ":"

	defaultConnectAttempts = 3
	defaultBackoffStep     = 250 * time.Millisecond
	defaultBackoffMax      = 2 * time.Second
)

var (
	errNotConnected = errors.New("not connected")
	errClosing      = errors.New("disconnecting")
)

type Scripter interface {
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd
	ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd
	ScriptLoad(ctx context.Context, script string) *redis.StringCmd
}

// Client is the command surface used by the coordination components. Both
// *redis.Client and *redis.ClusterClient satisfy it.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	AddHook(redis.Hook)
	Close() error
	Scripter
}

// ClientFactory builds, but does not connect, a client for the config.
type ClientFactory func(RedisConfig) (Client, error)

// NewRedisClient is the default ClientFactory.
func NewRedisClient(cfg RedisConfig) (Client, error) {
	log := cfg.Log()

	if cfg.IsCluster() {
		copts, err := cfg.GetClusterOptions()
		if err != nil {
			return nil, err
		}
		log.Infof("creating redis cluster client: %v", copts.Addrs)
		return redis.NewClusterClient(copts), nil
	}

	opts, err := cfg.GetOptions()
	if err != nil {
		return nil, err
	}
	log.Infof("creating redis client: %s db %d", opts.Addr, opts.DB)
	return redis.NewClient(opts), nil
}

// Store owns the connections to the shared backing store. One primary
// connection (a pooled client) serves commands. A second, independent,
// connection is created on first use for subscriptions because a subscribed
// connection cannot issue other commands.
//
// Store is created once at startup, Connect'ed, handed to the components that
// need it and Disconnect'ed on shutdown.
type Store struct {
	cfg      RedisConfig
	log      Logger
	observer Observer

	newClient       ClientFactory
	connectAttempts int
	backoff         readiness.Backoff

	mu        sync.RWMutex
	client    Client
	closing   bool
	inflight  sync.WaitGroup
	subClient Client
	pubsub    *redis.PubSub

	healthy *atomic.Bool
}

type StoreOption func(*Store)

func WithObserver(o Observer) StoreOption {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithConnectRetry bounds the initial connection attempts.
func WithConnectRetry(attempts int, backoff readiness.Backoff) StoreOption {
	return func(s *Store) {
		if attempts > 0 {
			s.connectAttempts = attempts
		}
		if backoff != nil {
			s.backoff = backoff
		}
	}
}

func WithClientFactory(f ClientFactory) StoreOption {
	return func(s *Store) {
		if f != nil {
			s.newClient = f
		}
	}
}

func NewStore(cfg RedisConfig, opts ...StoreOption) *Store {
	s := &Store{
		cfg:             cfg,
		log:             cfg.Log(),
		observer:        nopObserver{},
		newClient:       NewRedisClient,
		connectAttempts: defaultConnectAttempts,
		backoff:         readiness.LinearBackoff(defaultBackoffStep, defaultBackoffMax),
		healthy:         atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Log() Logger {
	return s.log
}

func (s *Store) URL() string {
	return s.cfg.URL()
}

func (s *Store) Namespace() string {
	return s.cfg.Namespace()
}

// Healthy reports the availability last observed on the primary connection.
func (s *Store) Healthy() bool {
	return s.healthy.Load()
}

// Connect establishes the primary connection, verifying it with PING. Only
// this initial phase is retried; once connected, failed commands are reported
// to the caller and never retried here.
func (s *Store) Connect(ctx context.Context) error {
	log := s.log.FromContext(ctx)
	defer log.Close()

	span, ctx := otrace.StartSpanFromContext(ctx, "redis.store.Connect")
	defer span.Finish()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	client, err := s.newClient(s.cfg)
	if err != nil {
		return err
	}

	attempt := 0
	err = readiness.RepeatWithBackoff(ctx, s.connectAttempts, s.backoff, func(ctx context.Context) error {
		attempt++
		err := client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		log.Infof("Connect: ping %s attempt %d/%d failed: %v", s.URL(), attempt, s.connectAttempts, err)
		// The server answered and refused us, e.g. bad credentials. Trying
		// again will not change that.
		if isReplyError(err) {
			return readiness.NewUnrecoverableError(err)
		}
		return err
	})
	if err != nil {
		_ = client.Close()
		return UnavailableError(err, s.URL())
	}

	client.AddHook(availabilityHook{s: s})
	s.client = client
	s.closing = false
	s.markUp()
	log.Infof("Connect: connected to %s", s.URL())
	return nil
}

// Disconnect stops new commands, waits for the in-flight ones (bounded by
// ctx) and closes both connections. It is safe to call more than once.
func (s *Store) Disconnect(ctx context.Context) error {
	log := s.log.FromContext(ctx)
	defer log.Close()

	s.mu.Lock()
	if s.client == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.Infof("Disconnect: abandoning in-flight commands: %v", ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.pubsub != nil {
		errs = append(errs, s.pubsub.Close())
		s.pubsub = nil
	}
	if s.subClient != nil {
		errs = append(errs, s.subClient.Close())
		s.subClient = nil
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
		s.client = nil
	}
	s.healthy.Store(false)
	log.Infof("Disconnect: closed %s", s.URL())
	return errors.Join(errs...)
}

// use returns the primary client for the duration of one operation. done
// must be called when the operation completes.
func (s *Store) use(name string) (Client, func(), error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, nil, UnavailableError(errNotConnected, name)
	}
	if s.closing {
		return nil, nil, UnavailableError(errClosing, name)
	}
	s.inflight.Add(1)
	return s.client, s.inflight.Done, nil
}

// Client returns the primary command client for callers needing commands
// the components do not wrap. It is not tracked by Disconnect.
func (s *Store) Client() (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil || s.closing {
		return nil, UnavailableError(errNotConnected, "client")
	}
	return s.client, nil
}

// Ping round trips to the store, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	client, done, err := s.use("ping")
	if err != nil {
		return err
	}
	defer done()
	return storeError(client.Ping(ctx).Err(), "ping")
}

// Subscriber returns the dedicated subscription connection, creating it on
// first use. The same PubSub is returned for every caller.
func (s *Store) Subscriber(ctx context.Context) (*redis.PubSub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil || s.closing {
		return nil, UnavailableError(errNotConnected, "subscriber")
	}
	if s.pubsub != nil {
		return s.pubsub, nil
	}

	sub, err := s.newClient(s.cfg)
	if err != nil {
		return nil, err
	}
	s.subClient = sub
	s.pubsub = sub.Subscribe(ctx)
	s.log.Debugf("Subscriber: created subscription connection to %s", s.URL())
	return s.pubsub, nil
}

// key builds a namespaced store key.
func (s *Store) key(parts ...string) string {
	return s.cfg.Namespace() + keySeparator + strings.Join(parts, keySeparator)
}

func (s *Store) markUp() {
	if s.healthy.CompareAndSwap(false, true) {
		s.log.Infof("backing store %s available", s.URL())
		s.observer.StoreAvailable(true)
	}
}

func (s *Store) markDown(err error) {
	if s.healthy.CompareAndSwap(true, false) {
		s.log.Warnf("backing store %s connection lost: %v", s.URL(), err)
		s.observer.StoreAvailable(false)
	}
}

// observe records the availability implied by the outcome of a command.
// Misses and reply errors prove the store answered. Caller cancellation says
// nothing about the store.
func (s *Store) observe(err error) {
	switch {
	case err == nil, errors.Is(err, redis.Nil), isReplyError(err):
		s.markUp()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		s.markDown(err)
	}
}

// availabilityHook surfaces connection loss and recovery in the logs. It
// never changes the outcome of a command.
type availabilityHook struct {
	s *Store
}

func (h availabilityHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h availabilityHook) AfterProcess(_ context.Context, cmd redis.Cmder) error {
	h.s.observe(cmd.Err())
	return nil
}

func (h availabilityHook) BeforeProcessPipeline(ctx context.Context, _ []redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h availabilityHook) AfterProcessPipeline(_ context.Context, cmds []redis.Cmder) error {
	var err error
	for _, cmd := range cmds {
		if cmdErr := cmd.Err(); cmdErr != nil && !errors.Is(cmdErr, redis.Nil) && !isReplyError(cmdErr) {
			err = cmdErr
			break
		}
	}
	h.s.observe(err)
	return nil
}
