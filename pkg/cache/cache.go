package cache

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldline/dispatch/pkg/async"
	"github.com/fieldline/dispatch/pkg/logger"
	"go.uber.org/zap"
)

// Store is the subset of redis operations the cache needs.
type Store interface {
	GetString(ctx context.Context, key string) (string, error)
	SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Manager handles caching operations with JSON serialization
type Manager struct {
	store Store
}

// NewManager creates a new cache manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Get retrieves a cached value and unmarshals it into result
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.store.GetString(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// Set marshals and caches a value with expiration
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.store.SetWithExpiration(ctx, key, string(data), ttl)
}

// GetOrSet retrieves from cache or executes fn and caches the result. The
// cache write happens in the background so a slow or unavailable redis never
// delays the response.
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, result interface{}, fn func() (interface{}, error)) error {
	// Try cache first
	err := m.Get(ctx, key, result)
	if err == nil {
		return nil // Cache hit
	}

	// Cache miss - execute function
	data, err := fn()
	if err != nil {
		return err
	}

	async.GoWithTimeout(ctx, "cache-write", 5*time.Second, func(ctx context.Context) {
		if err := m.Set(ctx, key, data, ttl); err != nil {
			logger.WarnContext(ctx, "cache write failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	})

	// Marshal the result into the result pointer
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(jsonData, result)
}

// Delete removes a key from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.store.Delete(ctx, keys...)
}

// CacheKeys defines common cache key patterns
type CacheKeys struct{}

var Keys = CacheKeys{}

// Geocode returns the cache key for a geocoded address. The address is
// hashed so raw customer text never appears in redis keys.
func (k CacheKeys) Geocode(normalizedAddress string) string {
	return fmt.Sprintf("geocode:%x", sha1.Sum([]byte(normalizedAddress)))
}

// Travel returns the cache key for a travel estimate between two H3 cells
// bucketed by weekday and hour of day.
func (k CacheKeys) Travel(fromCell, toCell string, weekday time.Weekday, hour int) string {
	return fmt.Sprintf("travel:%s:%s:%d:%d", fromCell, toCell, int(weekday), hour)
}

// TTL defines common cache TTL durations
type CacheTTL struct{}

var TTL = CacheTTL{}

func (t CacheTTL) Short() time.Duration    { return 5 * time.Minute }
func (t CacheTTL) Medium() time.Duration   { return 15 * time.Minute }
func (t CacheTTL) Long() time.Duration     { return 1 * time.Hour }
func (t CacheTTL) VeryLong() time.Duration { return 24 * time.Hour }
