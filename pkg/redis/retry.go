package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fieldline/dispatch/pkg/resilience"
	"github.com/redis/go-redis/v9"
)

// RetryableOperation runs one redis call under the transient retry policy,
// with tighter backoff than the provider defaults since redis answers in
// microseconds when healthy.
func RetryableOperation[T any](ctx context.Context, operation func(context.Context) (T, error), operationName string) (T, error) {
	config := resilience.TransientRetryConfig()
	config.InitialBackoff = 50 * time.Millisecond
	config.MaxBackoff = 1 * time.Second
	config.RetryableChecker = isRedisRetryable

	result, err := resilience.RetryWithName(ctx, config, func(ctx context.Context) (interface{}, error) {
		return operation(ctx)
	}, operationName)

	if err != nil {
		return *new(T), err
	}

	return result.(T), nil
}

// RetryableSetNX claims a key with retry logic and reports whether this call
// created it.
func (c *Client) RetryableSetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return RetryableOperation(ctx, func(ctx context.Context) (bool, error) {
		return c.SetNXWithExpiration(ctx, key, value, expiration)
	}, "redis.setnx")
}

// RetryableGet reads a key under the retry policy. redis.Nil passes
// through without retries.
func (c *Client) RetryableGet(ctx context.Context, key string) (string, error) {
	return RetryableOperation(ctx, func(ctx context.Context) (string, error) {
		return c.Get(ctx, key).Result()
	}, "redis.get")
}

// isRedisRetryable classifies redis failures for the retry loop.
func isRedisRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// redis.Nil is an answer, not a fault.
	if errors.Is(err, redis.Nil) {
		return false
	}

	// Transport faults and transient server states.
	errMsg := strings.ToLower(err.Error())
	retryableMessages := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"timeout",
		"server closed",
		"unexpected eof",
		"pool timeout",
		"i/o timeout",
		"connection pool exhausted",
		"loading",    // dataset still loading after restart
		"busy",       // long script running
		"masterdown",
		"readonly", // writing against a replica during failover
		"tryagain",
		"clusterdown",
	}

	for _, msg := range retryableMessages {
		if strings.Contains(errMsg, msg) {
			return true
		}
	}

	// Protocol, type and auth errors never heal on retry.
	nonRetryableMessages := []string{
		"wrongtype",
		"err syntax",
		"err invalid",
		"noauth",
		"wrongpass",
		"noperm",
		"err unknown",
		"execabort",
	}

	for _, msg := range nonRetryableMessages {
		if strings.Contains(errMsg, msg) {
			return false
		}
	}

	// Unrecognized errors retry; the budget is two attempts either way.
	return true
}
