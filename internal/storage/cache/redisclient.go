package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// RedisOptions locate the redis instance shared by the tenant cache and the
// rate limiter.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// DialTimeout bounds the startup ping. Zero means two seconds.
	DialTimeout time.Duration
}

// RedisClient stores JSON documents in redis for CachedTenantStore.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects and pings, so a bad address fails at startup
// rather than on the first push.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", opts.Addr, err)
	}
	return &RedisClient{rdb: rdb}, nil
}

// Redis exposes the underlying client for the shared rate limiter scripts.
func (c *RedisClient) Redis() *redis.Client {
	return c.rdb
}

func (c *RedisClient) Get(ctx context.Context, key string, dest any) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A document written by an older layout is treated as absent.
		_ = c.rdb.Del(ctx, key).Err()
		return ErrCacheMiss
	}
	return nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

func (c *RedisClient) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.SetNX(ctx, key, raw, ttl).Result()
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}
