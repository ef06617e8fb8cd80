package travel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldline/dispatch/internal/geo"
	"github.com/fieldline/dispatch/pkg/cache"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	downtown = models.Coordinates{Latitude: 34.0522, Longitude: -118.2437}
	westside = models.Coordinates{Latitude: 34.0901, Longitude: -118.4065}
)

type fakeTraffic struct {
	mu    sync.Mutex
	calls int
	leg   Leg
	err   error
}

func (f *fakeTraffic) DriveTime(context.Context, models.Coordinates, models.Coordinates, time.Time) (Leg, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Leg{}, f.err
	}
	return f.leg, nil
}

func (f *fakeTraffic) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

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

func losAngeles(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func TestRushFactor(t *testing.T) {
	loc := losAngeles(t)
	at := func(day, hour, minute int) time.Time {
		// August 2025: the 4th is a Monday.
		return time.Date(2025, 8, day, hour, minute, 0, 0, loc)
	}

	tests := []struct {
		name string
		t    time.Time
		want float64
	}{
		{"weekday before morning rush", at(6, 6, 59), 1.0},
		{"weekday morning rush opens", at(6, 7, 0), 1.9},
		{"weekday morning rush closes", at(6, 10, 0), 1.0},
		{"weekday midday", at(6, 12, 0), 1.0},
		{"weekday evening rush opens", at(6, 16, 0), 1.9},
		{"weekday evening rush last minute", at(6, 18, 59), 1.9},
		{"weekday evening rush closes", at(6, 19, 0), 1.0},
		{"saturday morning", at(9, 8, 0), 1.0},
		{"saturday midday opens", at(9, 10, 0), 1.2},
		{"saturday midday last minute", at(9, 13, 59), 1.2},
		{"saturday midday closes", at(9, 14, 0), 1.0},
		{"sunday commute hour", at(10, 8, 0), 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rushFactor(tt.t))
		})
	}
}

func TestEstimate_ModelMath(t *testing.T) {
	loc := losAngeles(t)
	estimator := NewEstimator(nil, nil)

	// One degree of latitude is 69.09 straight-line miles, so the base
	// drive time is exactly 138.18 minutes at 30 mph.
	from := models.Coordinates{Latitude: 34.0, Longitude: -118.0}
	to := models.Coordinates{Latitude: 35.0, Longitude: -118.0}

	tests := []struct {
		name        string
		departAt    time.Time
		wantMinutes int
	}{
		// ceil(138.18 * 1.0) + 5
		{"off peak", time.Date(2025, 8, 6, 12, 0, 0, 0, loc), 144},
		// ceil(138.18 * 1.9) + 5 = ceil(262.542) + 5
		{"weekday rush", time.Date(2025, 8, 6, 8, 0, 0, 0, loc), 268},
		// ceil(138.18 * 1.2) + 5 = ceil(165.816) + 5
		{"saturday midday", time.Date(2025, 8, 9, 11, 0, 0, 0, loc), 171},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := estimator.Estimate(context.Background(), from, to, tt.departAt)
			assert.Equal(t, tt.wantMinutes, est.Minutes)
			assert.Equal(t, SourceModel, est.Source)
			assert.InDelta(t, 69.09, est.Miles, 0.01)
		})
	}
}

func TestModelEstimate_IgnoresLiveTraffic(t *testing.T) {
	loc := losAngeles(t)
	fake := &fakeTraffic{leg: Leg{Duration: 90 * time.Minute, Miles: 40}}
	estimator := NewEstimator(fake, nil)

	from := models.Coordinates{Latitude: 34.0, Longitude: -118.0}
	to := models.Coordinates{Latitude: 35.0, Longitude: -118.0}

	est := estimator.ModelEstimate(from, to, time.Date(2025, 8, 6, 8, 0, 0, 0, loc))

	assert.Equal(t, SourceModel, est.Source)
	assert.Equal(t, 268, est.Minutes, "rush curve applies to future departures")
	assert.Equal(t, 0, fake.callCount())

	same := estimator.ModelEstimate(from, from, time.Now())
	assert.Equal(t, Estimate{Minutes: 5, Miles: 0, Source: SourceModel}, same)
}

func TestEstimate_ZeroDistanceCostsOverheadOnly(t *testing.T) {
	fake := &fakeTraffic{leg: Leg{Duration: 30 * time.Minute, Miles: 12}}
	estimator := NewEstimator(fake, nil)

	est := estimator.Estimate(context.Background(), downtown, downtown, time.Now())

	assert.Equal(t, Estimate{Minutes: 5, Miles: 0, Source: SourceModel}, est)
	assert.Equal(t, 0, fake.callCount())
}

func TestEstimate_PrefersLiveTraffic(t *testing.T) {
	loc := losAngeles(t)
	fake := &fakeTraffic{leg: Leg{Duration: 21 * time.Minute, Miles: 9.45}}
	estimator := NewEstimator(fake, nil)

	est := estimator.Estimate(context.Background(), downtown, westside, time.Date(2025, 8, 6, 17, 0, 0, 0, loc))

	assert.Equal(t, Estimate{Minutes: 26, Miles: 9.45, Source: SourceLive}, est)
	assert.Equal(t, 1, fake.callCount())
}

func TestEstimate_LiveDurationRoundsUp(t *testing.T) {
	fake := &fakeTraffic{leg: Leg{Duration: 20*time.Minute + 30*time.Second, Miles: 9.45}}
	estimator := NewEstimator(fake, nil)

	est := estimator.Estimate(context.Background(), downtown, westside, time.Now())

	assert.Equal(t, 26, est.Minutes)
}

func TestEstimate_LiveFailureFallsBackToModel(t *testing.T) {
	loc := losAngeles(t)
	fake := &fakeTraffic{err: errors.New("upstream timeout")}
	estimator := NewEstimator(fake, nil)

	est := estimator.Estimate(context.Background(), downtown, westside, time.Date(2025, 8, 6, 12, 0, 0, 0, loc))

	assert.Equal(t, SourceModel, est.Source)
	assert.Positive(t, est.Minutes)
	assert.InDelta(t, 9.68, est.Miles, 0.05)
	assert.Equal(t, 1, fake.callCount())
}

func TestEstimate_MemoizesLiveLegs(t *testing.T) {
	loc := losAngeles(t)
	fake := &fakeTraffic{leg: Leg{Duration: 19 * time.Minute, Miles: 9.45}}
	estimator := NewEstimator(fake, nil)

	at5 := time.Date(2025, 8, 6, 17, 0, 0, 0, loc)
	first := estimator.Estimate(context.Background(), downtown, westside, at5)
	second := estimator.Estimate(context.Background(), downtown, westside, at5.Add(10*time.Minute))
	require.Equal(t, first, second)
	assert.Equal(t, 1, fake.callCount(), "same cells and hour should reuse the memo")

	estimator.Estimate(context.Background(), downtown, westside, at5.Add(time.Hour))
	assert.Equal(t, 2, fake.callCount(), "a new departure hour is a new leg")

	estimator.Estimate(context.Background(), westside, downtown, at5)
	assert.Equal(t, 3, fake.callCount(), "the reverse leg is a new leg")
}

func TestEstimate_SharedCacheServesSecondInstance(t *testing.T) {
	loc := losAngeles(t)
	departAt := time.Date(2025, 8, 6, 17, 0, 0, 0, loc)
	store := newMemStore()

	fake1 := &fakeTraffic{leg: Leg{Duration: 19 * time.Minute, Miles: 9.45}}
	first := NewEstimator(fake1, cache.NewManager(store))
	est1 := first.Estimate(context.Background(), downtown, westside, departAt)
	require.Equal(t, SourceLive, est1.Source)

	// The shared write is asynchronous; wait for it to land.
	key := cache.Keys.Travel(
		geo.CellFor(downtown.Latitude, downtown.Longitude),
		geo.CellFor(westside.Latitude, westside.Longitude),
		departAt.Weekday(), departAt.Hour(),
	)
	require.Eventually(t, func() bool { return store.has(key) }, time.Second, 10*time.Millisecond)

	fake2 := &fakeTraffic{leg: Leg{Duration: 40 * time.Minute, Miles: 9.45}}
	second := NewEstimator(fake2, cache.NewManager(store))
	est2 := second.Estimate(context.Background(), downtown, westside, departAt)

	assert.Equal(t, est1, est2)
	assert.Equal(t, 0, fake2.callCount())
}

func TestEstimate_NeverNegative(t *testing.T) {
	estimator := NewEstimator(nil, nil)
	loc := losAngeles(t)

	for hour := 0; hour < 24; hour++ {
		est := estimator.Estimate(context.Background(), downtown, westside, time.Date(2025, 8, 6, hour, 0, 0, 0, loc))
		assert.GreaterOrEqual(t, est.Minutes, 5, "hour %d", hour)
	}
}

func TestTravelKeyNormalization(t *testing.T) {
	key := cache.Keys.Travel("8828308281fffff", "8828308283fffff", time.Wednesday, 17)
	assert.True(t, strings.HasPrefix(key, "travel:"), key)
}
