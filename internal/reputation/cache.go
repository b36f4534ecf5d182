package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultCacheTTL is how long a verdict is reused across messages.
	DefaultCacheTTL = 24 * time.Hour

	// keyPrefix namespaces reputation keys in Redis.
	keyPrefix = "phishtriage:reputation:"
)

// Cached decorates a Service with a Redis-backed result cache. Cache
// failures never fail a lookup; they fall through to the wrapped service.
type Cached struct {
	next   Service
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCached wraps next with a Redis cache. A non-positive ttl uses DefaultCacheTTL.
func NewCached(next Service, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// NewRedisClient parses a redis:// URL and returns a connected client.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// CacheKey returns the Redis key for url.
func CacheKey(url string) string {
	return keyPrefix + URLIdentifier(url)
}

// Lookup returns a cached Result when present, otherwise asks the wrapped
// service and stores successful answers.
func (c *Cached) Lookup(ctx context.Context, url string) (Result, error) {
	key := CacheKey(url)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached Result
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return cached.Normalize(), nil
		}
	case !errors.Is(err, redis.Nil):
		c.warn("reputation cache read failed", url, err)
	}

	result, err := c.next.Lookup(ctx, url)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(result)
	if err == nil {
		if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.warn("reputation cache write failed", url, err)
		}
	}

	return result, nil
}

func (c *Cached) warn(msg, url string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.String("url", url), slog.Any("error", err))
	}
}
