package geo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldline/dispatch/pkg/cache"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder struct {
	mu         sync.Mutex
	calls      int
	lastQuery  string
	lastBias   models.Coordinates
	candidates []Candidate
	err        error
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string, bias models.Coordinates) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastQuery = address
	f.lastBias = bias
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func (f *fakeGeocoder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) GetString(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (s *memStore) SetWithExpiration(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.data[key] = string(b)
	return nil
}

func (s *memStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func laProfile() *models.BusinessProfile {
	return &models.BusinessProfile{
		BusinessName:       "Reliable Plumbing Co",
		Trade:              "plumbing",
		Timezone:           "America/Los_Angeles",
		Latitude:           34.0522,
		Longitude:          -118.2437,
		ServiceRadiusMiles: 25,
	}
}

func TestSpecific(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"house number and street", "789 Sunset Blvd, Los Angeles, CA 90210", true},
		{"house number only", "123 Main St", true},
		{"zip without house number", "somewhere near 90210", true},
		{"extra whitespace", "  42   Elm   Street  ", true},
		{"street without number", "Sunset Blvd", false},
		{"vague reference", "my house", false},
		{"four digits", "zip is 1234", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Specific(tt.text))
		})
	}
}

func TestResolve_VagueTextSkipsGeocoder(t *testing.T) {
	fake := &fakeGeocoder{}
	resolver := NewResolver(fake, nil)

	resolved, err := resolver.Resolve(context.Background(), "the big house on the corner", laProfile())

	require.ErrorIs(t, err, ErrNeedSpecificAddress)
	assert.Nil(t, resolved)
	assert.Equal(t, 0, fake.callCount())
}

func TestResolve_AnnotatesInServiceArea(t *testing.T) {
	fake := &fakeGeocoder{
		candidates: []Candidate{{
			FormattedAddress: "789 Sunset Blvd, Los Angeles, CA 90210, USA",
			Location:         models.Coordinates{Latitude: 34.0901, Longitude: -118.4065},
			Confidence:       1.0,
		}},
	}
	resolver := NewResolver(fake, nil)
	profile := laProfile()

	resolved, err := resolver.Resolve(context.Background(), "789 Sunset Blvd, 90210", profile)

	require.NoError(t, err)
	assert.True(t, resolved.Geocoded)
	assert.True(t, resolved.InServiceArea)
	assert.Equal(t, "789 Sunset Blvd, Los Angeles, CA 90210, USA", resolved.Formatted)
	assert.InDelta(t, 9.68, resolved.DistanceMiles, 0.05)
	assert.Equal(t, 1.0, resolved.Confidence)
	assert.Len(t, resolved.H3Cell, 15)
	assert.Equal(t, profile.Anchor(), fake.lastBias)
}

func TestResolve_OutsideServiceArea(t *testing.T) {
	// San Diego is roughly 111 miles from the LA anchor.
	fake := &fakeGeocoder{
		candidates: []Candidate{{
			FormattedAddress: "600 B St, San Diego, CA 92101, USA",
			Location:         models.Coordinates{Latitude: 32.7157, Longitude: -117.1611},
			Confidence:       1.0,
		}},
	}
	resolver := NewResolver(fake, nil)

	resolved, err := resolver.Resolve(context.Background(), "600 B St, San Diego 92101", laProfile())

	require.NoError(t, err)
	assert.False(t, resolved.InServiceArea)
	assert.Greater(t, resolved.DistanceMiles, 100.0)
}

func TestResolve_NoGeocoderAcceptsAtFaceValue(t *testing.T) {
	resolver := NewResolver(nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "  123  Main St,  Springfield 62704 ", laProfile())

	require.NoError(t, err)
	assert.False(t, resolved.Geocoded)
	assert.True(t, resolved.InServiceArea)
	assert.Equal(t, "123 Main St, Springfield 62704", resolved.Formatted)
	assert.Empty(t, resolved.H3Cell)
	assert.Zero(t, resolved.Confidence)

	// Vague text is still rejected without a provider.
	_, err = resolver.Resolve(context.Background(), "my place", laProfile())
	assert.ErrorIs(t, err, ErrNeedSpecificAddress)
}

func TestResolve_ProviderError(t *testing.T) {
	fake := &fakeGeocoder{err: errors.New("upstream 502")}
	resolver := NewResolver(fake, nil)

	_, err := resolver.Resolve(context.Background(), "789 Sunset Blvd, 90210", laProfile())

	require.ErrorIs(t, err, ErrGeocodeFailed)
	assert.Contains(t, err.Error(), "upstream 502")
}

func TestResolve_NoMatches(t *testing.T) {
	fake := &fakeGeocoder{candidates: []Candidate{}}
	resolver := NewResolver(fake, nil)

	_, err := resolver.Resolve(context.Background(), "789 Sunset Blvd, 90210", laProfile())

	assert.ErrorIs(t, err, ErrGeocodeFailed)
}

func TestResolve_MemoizesByNormalizedText(t *testing.T) {
	fake := &fakeGeocoder{
		candidates: []Candidate{{
			FormattedAddress: "789 Sunset Blvd, Los Angeles, CA 90210, USA",
			Location:         models.Coordinates{Latitude: 34.0901, Longitude: -118.4065},
			Confidence:       0.8,
		}},
	}
	store := newMemStore()
	resolver := NewResolver(fake, cache.NewManager(store))
	profile := laProfile()

	first, err := resolver.Resolve(context.Background(), " 789  Sunset Blvd,  Los Angeles, CA 90210", profile)
	require.NoError(t, err)

	// The cache write is asynchronous; wait for it to land.
	key := cache.Keys.Geocode(strings.ToLower("789 Sunset Blvd, Los Angeles, CA 90210"))
	require.Eventually(t, func() bool { return store.has(key) }, time.Second, 10*time.Millisecond)

	second, err := resolver.Resolve(context.Background(), "789 Sunset Blvd, Los Angeles, CA 90210  ", profile)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.callCount())
	assert.Equal(t, first.Formatted, second.Formatted)
	assert.Equal(t, first.Location, second.Location)
	assert.Equal(t, first.H3Cell, second.H3Cell)
}

func TestResolve_FailedLookupsAreNotCached(t *testing.T) {
	fake := &fakeGeocoder{err: errors.New("timeout")}
	store := newMemStore()
	resolver := NewResolver(fake, cache.NewManager(store))

	_, err := resolver.Resolve(context.Background(), "789 Sunset Blvd, 90210", laProfile())
	require.ErrorIs(t, err, ErrGeocodeFailed)

	fake.mu.Lock()
	fake.err = nil
	fake.candidates = []Candidate{{
		FormattedAddress: "789 Sunset Blvd, Los Angeles, CA 90210, USA",
		Location:         models.Coordinates{Latitude: 34.0901, Longitude: -118.4065},
		Confidence:       1.0,
	}}
	fake.mu.Unlock()

	resolved, err := resolver.Resolve(context.Background(), "789 Sunset Blvd, 90210", laProfile())
	require.NoError(t, err)
	assert.True(t, resolved.InServiceArea)
	assert.Equal(t, 2, fake.callCount())
}

func TestCellFor(t *testing.T) {
	cell := CellFor(34.0522, -118.2437)
	require.Len(t, cell, 15)

	// Same block lands in the same cell, a different city does not.
	assert.Equal(t, cell, CellFor(34.0523, -118.2438))
	assert.NotEqual(t, cell, CellFor(32.7157, -117.1611))

	lat, lng := CellToLatLng(cell)
	assert.InDelta(t, 34.0522, lat, 0.01)
	assert.InDelta(t, -118.2437, lng, 0.01)
}
