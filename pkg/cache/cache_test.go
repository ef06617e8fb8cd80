package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockStore implements Store over an in-memory map
type mockStore struct {
	mu     sync.RWMutex
	data   map[string]string
	expiry map[string]time.Time
	getErr error
	setErr error
	delErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		data:   make(map[string]string),
		expiry: make(map[string]time.Time),
	}
}

func (m *mockStore) GetString(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return "", m.getErr
	}
	if exp, ok := m.expiry[key]; ok && time.Now().After(exp) {
		return "", redis.Nil
	}
	val, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (m *mockStore) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value.(string)
	if expiration > 0 {
		m.expiry[key] = time.Now().Add(expiration)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.delErr != nil {
		return m.delErr
	}
	for _, key := range keys {
		delete(m.data, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *mockStore) has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

type testPayload struct {
	Address string  `json:"address"`
	Miles   float64 `json:"miles"`
}

func TestManagerSetAndGet(t *testing.T) {
	store := newMockStore()
	m := NewManager(store)
	ctx := context.Background()

	want := testPayload{Address: "1847 Pacific Ave", Miles: 4.37}
	require.NoError(t, m.Set(ctx, "k1", want, time.Minute))

	var got testPayload
	require.NoError(t, m.Get(ctx, "k1", &got))
	assert.Equal(t, want, got)
}

func TestManagerGetMiss(t *testing.T) {
	store := newMockStore()
	m := NewManager(store)

	var got testPayload
	err := m.Get(context.Background(), "absent", &got)
	assert.ErrorIs(t, err, redis.Nil)
}

func TestManagerGetCorruptEntry(t *testing.T) {
	store := newMockStore()
	store.data["bad"] = "{not json"
	m := NewManager(store)

	var got testPayload
	assert.Error(t, m.Get(context.Background(), "bad", &got))
}

func TestManagerGetOrSetHit(t *testing.T) {
	store := newMockStore()
	m := NewManager(store)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", testPayload{Address: "cached"}, time.Minute))

	called := false
	var got testPayload
	err := m.GetOrSet(ctx, "k1", time.Minute, &got, func() (interface{}, error) {
		called = true
		return testPayload{Address: "fresh"}, nil
	})

	require.NoError(t, err)
	assert.False(t, called, "loader should not run on a cache hit")
	assert.Equal(t, "cached", got.Address)
}

func TestManagerGetOrSetMiss(t *testing.T) {
	store := newMockStore()
	m := NewManager(store)
	ctx := context.Background()

	var got testPayload
	err := m.GetOrSet(ctx, "k1", time.Minute, &got, func() (interface{}, error) {
		return testPayload{Address: "fresh", Miles: 1.5}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Address)
	assert.Equal(t, 1.5, got.Miles)

	// The write-behind lands shortly after
	assert.Eventually(t, func() bool { return store.has("k1") }, time.Second, 10*time.Millisecond)
}

func TestManagerGetOrSetLoaderError(t *testing.T) {
	store := newMockStore()
	m := NewManager(store)

	loaderErr := errors.New("provider unavailable")
	var got testPayload
	err := m.GetOrSet(context.Background(), "k1", time.Minute, &got, func() (interface{}, error) {
		return nil, loaderErr
	})

	assert.ErrorIs(t, err, loaderErr)
	assert.False(t, store.has("k1"))
}

func TestManagerGetOrSetSurvivesWriteFailure(t *testing.T) {
	store := newMockStore()
	store.setErr = errors.New("redis down")
	m := NewManager(store)

	var got testPayload
	err := m.GetOrSet(context.Background(), "k1", time.Minute, &got, func() (interface{}, error) {
		return testPayload{Address: "fresh"}, nil
	})

	require.NoError(t, err, "a failed cache write must not fail the lookup")
	assert.Equal(t, "fresh", got.Address)
}

func TestManagerDelete(t *testing.T) {
	store := newMockStore()
	m := NewManager(store)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k1", testPayload{}, time.Minute))
	require.NoError(t, m.Delete(ctx, "k1"))
	assert.False(t, store.has("k1"))
}

func TestGeocodeKeyHashesAddress(t *testing.T) {
	a := Keys.Geocode("1847 pacific ave, san francisco")
	b := Keys.Geocode("1847 pacific ave, san francisco")
	c := Keys.Geocode("612 30th st, oakland")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotContains(t, a, "pacific", "raw address must not leak into the key")
}

func TestTravelKey(t *testing.T) {
	key := Keys.Travel("8828308281fffff", "8828308283fffff", time.Wednesday, 17)
	assert.Equal(t, "travel:8828308281fffff:8828308283fffff:3:17", key)
}

func TestTTLValues(t *testing.T) {
	assert.Equal(t, 5*time.Minute, TTL.Short())
	assert.Equal(t, 15*time.Minute, TTL.Medium())
	assert.Equal(t, time.Hour, TTL.Long())
	assert.Equal(t, 24*time.Hour, TTL.VeryLong())
}
