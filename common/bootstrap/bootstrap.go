package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/gpu-agent/common/config"
	"github.com/lyzr/gpu-agent/common/logger"
	"github.com/lyzr/gpu-agent/common/redis"
	"github.com/lyzr/gpu-agent/common/storage"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	// Apply options
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize Redis (if not skipped)
	if !options.skipRedis {
		components.Logger.Info("connecting to redis")
		rdb, err := newRedisClient(components.Config.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to configure redis: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		components.Redis = redis.NewClient(rdb, components.Logger)

		// Register cleanup
		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 4. Initialize storage (if not skipped)
	if !options.skipStorage {
		components.Storage, err = storage.NewManagerFromConfig(ctx, components.Config.Storage, components.Logger)
		if err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to configure storage: %w", err)
		}
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"redis", components.Redis != nil,
		"storage", components.Storage != nil && components.Storage.Configured(),
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

// newRedisClient builds a go-redis client from whichever connection form
// the config carries: a redis:// URL, Upstash REST credentials, or a plain
// host/port pair.
func newRedisClient(cfg config.RedisConfig) (*goredis.Client, error) {
	if cfg.URL != "" {
		opts, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		return goredis.NewClient(opts), nil
	}

	// Upstash exposes the same instance over TLS on the standard port;
	// the REST token doubles as the password.
	if cfg.RestURL != "" && cfg.RestToken != "" {
		u, err := url.Parse(cfg.RestURL)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTASH_REDIS_REST_URL: %w", err)
		}
		host := u.Host
		if host == "" {
			host = strings.TrimPrefix(cfg.RestURL, "https://")
		}
		return goredis.NewClient(&goredis.Options{
			Addr:      host + ":6379",
			Password:  cfg.RestToken,
			TLSConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		}), nil
	}

	return goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}
