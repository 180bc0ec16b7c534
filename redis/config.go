package redis

import (
	"fmt"
	"strings"
	"time"

	env "github.com/datatrails/go-datatrails-coordination/environment"
	"github.com/go-redis/redis/v8"
)

const (
	//nolint:gosec
	RedisClusterPassordEnvFileSuffix = "REDIS_STORE_PASSWORD_FILENAME"
	RedisClusterSizeEnvSuffix        = "REDIS_CLUSTER_SIZE"
	RedisNamespaceEnvSuffix          = "REDIS_KEY_NAMESPACE"
	RedisNodeAddressFmtSuffix        = "REDIS_NODE%d_STORE_ADDRESS"
	RedisURLSuffix                   = "REDIS_STORE_URL"
	CacheTTLSecondsSuffix            = "CACHE_DEFAULT_TTL_SECONDS"
	LockTTLMillisecondsSuffix        = "LOCK_DEFAULT_TTL_MILLISECONDS"

	// The default implementation does  10 * GOMAXPROCS(0). GOMAXPROCS is
	// problematic in containers. Note that each cluster node gets its own pool
	nodePoolSize = 10

	DefaultCacheTTL = 5 * time.Minute
	DefaultLockTTL  = 30 * time.Second
)

type RedisConfig interface {
	GetClusterOptions() (*redis.ClusterOptions, error)
	GetOptions() (*redis.Options, error)
	Namespace() string
	IsCluster() bool
	URL() string
	Log() Logger

	// CacheTTL is the expiry applied to cache entries when the caller does
	// not choose one.
	CacheTTL() time.Duration
	// LockTTL is the lease applied to locks when the caller does not choose
	// one.
	LockTTL() time.Duration
}

type clusterConfig struct {
	log            Logger
	Size           int
	namespace      string
	clusterOptions redis.ClusterOptions
	options        redis.Options
	cacheTTL       time.Duration
	lockTTL        time.Duration
}

type ConfigOption func(*clusterConfig)

func WithDefaultCacheTTL(ttl time.Duration) ConfigOption {
	return func(cfg *clusterConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

func WithDefaultLockTTL(ttl time.Duration) ConfigOption {
	return func(cfg *clusterConfig) {
		if ttl > 0 {
			cfg.lockTTL = ttl
		}
	}
}

// FromEnvOrFatal assumes conventional service env vars and populates a
// RedisConfig or Fatals out. REDIS_STORE_URL selects a single node,
// otherwise the cluster node addresses are read.
func FromEnvOrFatal(log Logger) RedisConfig {
	cfg := clusterConfig{
		log:       log,
		Size:      -1,
		namespace: env.GetOrFatal(RedisNamespaceEnvSuffix),
		cacheTTL:  env.GetDurationWithDefault(CacheTTLSecondsSuffix, time.Second, DefaultCacheTTL),
		lockTTL:   env.GetDurationWithDefault(LockTTLMillisecondsSuffix, time.Millisecond, DefaultLockTTL),
	}

	if url := env.GetWithDefault(RedisURLSuffix, ""); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			log.Panicf("invalid %s: %v", RedisURLSuffix, err)
		}
		cfg.options = *opts
		return &cfg
	}

	cfg.Size = env.GetIntOrFatal(RedisClusterSizeEnvSuffix)
	cfg.clusterOptions.Password = env.ReadIndirectOrFatal(RedisClusterPassordEnvFileSuffix)
	cfg.clusterOptions.PoolSize = nodePoolSize
	cfg.clusterOptions.Addrs = make([]string, 0, cfg.Size)
	cfg.clusterOptions.MaxRedirects = cfg.Size
	for i := 0; i < cfg.Size; i++ {
		suffix := fmt.Sprintf(RedisNodeAddressFmtSuffix, i)
		cfg.clusterOptions.Addrs = append(
			cfg.clusterOptions.Addrs,
			env.GetOrFatal(suffix),
		)
	}
	log.InfoR("Addrs", cfg.clusterOptions.Addrs)

	return &cfg
}

// NewConfig creates a single node configuration from a redis:// or rediss://
// url.
func NewConfig(log Logger, url string, namespace string, opts ...ConfigOption) (RedisConfig, error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, InvalidArgumentError("namespace", "is required")
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: url %v", ErrInvalidArgument, err)
	}
	cfg := clusterConfig{
		log:       log,
		Size:      -1,
		namespace: namespace,
		options:   *ropts,
		cacheTTL:  DefaultCacheTTL,
		lockTTL:   DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg, nil
}

func (cfg *clusterConfig) Log() Logger {
	return cfg.log
}

func (cfg *clusterConfig) IsCluster() bool {
	return cfg.Size > -1
}

func (cfg *clusterConfig) GetClusterOptions() (*redis.ClusterOptions, error) {

	if cfg.IsCluster() {
		opts := cfg.clusterOptions
		return &opts, nil
	}

	return nil, fmt.Errorf("unexpected config type when requesting ClusterOptions")
}

func (cfg *clusterConfig) GetOptions() (*redis.Options, error) {

	if !cfg.IsCluster() {
		opts := cfg.options
		return &opts, nil
	}

	return nil, fmt.Errorf("unexpected config type when requesting Options")
}

func (cfg *clusterConfig) Namespace() string {
	return cfg.namespace
}

func (cfg *clusterConfig) CacheTTL() time.Duration {
	return cfg.cacheTTL
}

func (cfg *clusterConfig) LockTTL() time.Duration {
	return cfg.lockTTL
}

func (cfg *clusterConfig) URL() string {
	if cfg.IsCluster() {
		if len(cfg.clusterOptions.Addrs) == 0 {
			return ""
		}
		return cfg.clusterOptions.Addrs[0]
	}

	return cfg.options.Addr
}
