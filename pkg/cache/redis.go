package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cjcelaya/mindgate/pkg/config"
)

// RedisCache implements Cache on a Redis connection.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Ping verifies the connection. Callers degrade to uncached operation when
// this fails.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// RateLimit implements a fixed-window counter: INCR, then EXPIRE on the
// first hit of the window.
func (c *RedisCache) RateLimit(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return RateLimitResult{}, fmt.Errorf("redis expire %s: %w", key, err)
		}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: int(count) <= limit, Remaining: remaining}, nil
}

func (c *RedisCache) Keys(ctx context.Context) (int64, error) {
	n, err := c.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dbsize: %w", err)
	}
	return n, nil
}

func (c *RedisCache) Reset(ctx context.Context) error {
	if err := c.client.FlushDB(ctx).Err(); err != nil {
		return fmt.Errorf("redis flushdb: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
