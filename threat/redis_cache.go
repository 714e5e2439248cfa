package threat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soctriage/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// RedisKeyPrefix namespaces enrichment entries in a shared Redis
const RedisKeyPrefix = "soctriage:ioc:"

// RedisCache shares enrichment results between runs and hosts
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// cachedReputation is the stored form; the indicator back-reference is not persisted
type cachedReputation struct {
	Reputation    int    `msgpack:"r"`
	Detections    int    `msgpack:"d"`
	HasDetections bool   `msgpack:"hd"`
	Source        string `msgpack:"s"`
}

// RedisOptions holds connection settings for RedisCache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewRedisCache creates a Redis cache instance. The connection is lazy; call Ping to check it.
func NewRedisCache(opts RedisOptions, ttl time.Duration, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// Set stores a successful result with the cache TTL
func (rc *RedisCache) Set(ctx context.Context, key string, result Result) error {
	if !result.Succeeded() {
		return ErrNotCacheable
	}

	data, err := msgpack.Marshal(cachedReputation{
		Reputation:    result.Reputation,
		Detections:    result.Detections,
		HasDetections: result.HasDetections,
		Source:        result.Source,
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "marshal").Inc()
		return fmt.Errorf("failed to encode cache value for %s: %w", key, err)
	}

	if err := rc.client.Set(ctx, RedisKeyPrefix+key, data, rc.ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("redis", "set").Inc()
		return fmt.Errorf("failed to store cache value for %s: %w", key, err)
	}
	return nil
}

// Get retrieves a result. The indicator is not stored, so callers fill it in.
func (rc *RedisCache) Get(ctx context.Context, key string) (Result, bool, error) {
	data, err := rc.client.Get(ctx, RedisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.CacheMisses.WithLabelValues("redis").Inc()
			return Result{}, false, nil
		}
		metrics.CacheErrors.WithLabelValues("redis", "get").Inc()
		return Result{}, false, fmt.Errorf("failed to read cache value for %s: %w", key, err)
	}

	var entry cachedReputation
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		rc.logger.Warnw("Discarding undecodable cache entry", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("redis", "unmarshal").Inc()
		return Result{}, false, fmt.Errorf("failed to decode cache value for %s: %w", key, err)
	}

	metrics.CacheHits.WithLabelValues("redis").Inc()
	return Result{
		Status:        StatusSuccess,
		Reputation:    entry.Reputation,
		Detections:    entry.Detections,
		HasDetections: entry.HasDetections,
		Source:        entry.Source,
	}, true, nil
}

// TTL returns the remaining lifetime of an entry
func (rc *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rc.client.TTL(ctx, RedisKeyPrefix+key).Result()
}
