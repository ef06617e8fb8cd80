package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/dispatch/pkg/config"
	"github.com/redis/go-redis/v9"
)

// connectTimeout bounds the startup ping so a wrong address fails fast
// instead of hanging boot.
const connectTimeout = 5 * time.Second

// Client wraps go-redis with the string-oriented helpers the replay cache
// and rate limiter need.
type Client struct {
	*redis.Client
}

// NewRedisClient connects and verifies the connection with a ping.
func NewRedisClient(cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

// SetWithExpiration stores a value under key for the given TTL.
func (c *Client) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Set(ctx, key, value, expiration).Err()
}

// SetNXWithExpiration stores a value only if the key is not already held and
// reports whether this call claimed it.
func (c *Client) SetNXWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.SetNX(ctx, key, value, expiration).Result()
}

// GetString reads a string value. Returns redis.Nil when the key is absent.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.Get(ctx, key).Result()
}

// Delete removes the given keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.Del(ctx, keys...).Err()
}
