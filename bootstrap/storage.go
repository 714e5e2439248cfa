package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"soctriage/config"
	"soctriage/threat"

	"go.uber.org/zap"
)

// redisRetryDelays are the waits between Redis connection attempts
var redisRetryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// InitCache creates the enrichment result cache selected by configuration.
// A Redis cache is pinged with retries before it is used.
func InitCache(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (threat.ResultCache, error) {
	if cfg.Cache.Backend != config.CacheRedis {
		sugar.Debugw("Using in-memory enrichment cache",
			"size", cfg.Cache.Size,
			"ttl", cfg.CacheTTL())
		return threat.NewMemoryCache(cfg.Cache.Size, cfg.CacheTTL()), nil
	}

	cache := threat.NewRedisCache(threat.RedisOptions{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		PoolSize: cfg.Cache.Redis.PoolSize,
	}, cfg.CacheTTL(), sugar)

	maxRetries := len(redisRetryDelays)
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := redisRetryDelays[attempt-1]
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", delay)
			select {
			case <-ctx.Done():
				_ = cache.Close()
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = cache.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			break
		}
		sugar.Warnw("Redis connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	if lastErr != nil {
		_ = cache.Close()
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: Redis Connection Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", ClassifyConnectionError(lastErr, "Redis", cfg.Cache.Redis.Addr))
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries+1, lastErr)
	}

	sugar.Infow("Connected to Redis enrichment cache", "addr", cfg.Cache.Redis.Addr)
	return cache, nil
}
