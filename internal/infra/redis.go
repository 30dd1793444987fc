package infra

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisHandle is the lazily dialed Redis connection shared by the process.
type RedisHandle = Handle[*redis.Client]

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// NewRedisHandle returns a handle that dials url on first use.
func NewRedisHandle(url string) *RedisHandle {
	return NewHandle("redis",
		func(ctx context.Context) (*redis.Client, error) { return NewRedisClient(ctx, url) },
		func(ctx context.Context, c *redis.Client) error { return c.Ping(ctx).Err() },
		func(c *redis.Client) error { return c.Close() },
	)
}
