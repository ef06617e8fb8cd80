package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldline/dispatch/pkg/redis"
	"github.com/fieldline/dispatch/pkg/tracing"
	goredis "github.com/redis/go-redis/v9"
)

const (
	redisBackend = "redis"
	tracerName   = "github.com/fieldline/dispatch/internal/dedup"
)

// RedisStore shares the replay cache across instances. SETNX arbitrates
// concurrent duplicates of a turn: whichever replica records first owns
// the stored decision and every other replica replays it.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a store over an existing redis client. Keys are
// written under prefix and expire ttl after the decision is recorded.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(sid string) string {
	return s.prefix + ":" + sid
}

// Lookup returns the decision recorded for sid, if any.
func (s *RedisStore) Lookup(ctx context.Context, sid string) ([]byte, bool, error) {
	key := s.key(sid)
	var raw string
	err := tracing.TraceRedisCommand(ctx, tracerName, "get", key, func() error {
		var err error
		raw, err = s.client.RetryableGet(ctx, key)
		return err
	})
	if errors.Is(err, goredis.Nil) {
		recordLookup(redisBackend, false, nil)
		return nil, false, nil
	}
	if err != nil {
		recordLookup(redisBackend, false, err)
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}
	recordLookup(redisBackend, true, nil)
	return []byte(raw), true, nil
}

// Record claims sid with SETNX so the first decision written is the one
// that sticks.
func (s *RedisStore) Record(ctx context.Context, sid string, decision []byte) error {
	key := s.key(sid)
	var claimed bool
	err := tracing.TraceRedisCommand(ctx, tracerName, "setnx", key, func() error {
		var err error
		claimed, err = s.client.RetryableSetNX(ctx, key, decision, s.ttl)
		return err
	})
	if err != nil {
		recordWrite(redisBackend, "error")
		return fmt.Errorf("dedup record: %w", err)
	}
	if claimed {
		recordWrite(redisBackend, "stored")
	} else {
		recordWrite(redisBackend, "duplicate")
	}
	return nil
}

// Close is a no-op. The redis client is shared with other subsystems and
// closed by whoever constructed it.
func (s *RedisStore) Close() error { return nil }
