package travel

import (
	"context"
	"math"
	"time"

	"github.com/fieldline/dispatch/internal/geo"
	"github.com/fieldline/dispatch/pkg/cache"
	geodist "github.com/fieldline/dispatch/pkg/geo"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Estimate sources.
const (
	SourceLive  = "live"
	SourceModel = "model"
)

const (
	// transitionOverheadMinutes covers parking, unloading and walking up.
	// Added to every non-zero leg regardless of source.
	transitionOverheadMinutes = 5

	weekdayRushFactor  = 1.9
	saturdayRushFactor = 1.2

	memoEntries = 4096
	memoTTL     = 15 * time.Minute
)

// Estimate is the cost of driving one leg, in whole minutes.
type Estimate struct {
	Minutes int     `json:"minutes"`
	Miles   float64 `json:"miles"`
	Source  string  `json:"source"`
}

// Leg is a raw drive-time result from a live traffic provider.
type Leg struct {
	Duration time.Duration
	Miles    float64
}

// TrafficClient looks up a drive time with current or predicted traffic.
type TrafficClient interface {
	DriveTime(ctx context.Context, from, to models.Coordinates, departAt time.Time) (Leg, error)
}

// Estimator produces travel-time estimates between job sites. Live traffic
// is preferred when a client is configured; the rush-hour model is the
// fallback and never fails. Live results are memoized in-process and,
// when a cache manager is present, shared through Redis, keyed by the H3
// cell pair and departure weekday/hour.
type Estimator struct {
	traffic TrafficClient
	cache   *cache.Manager
	memo    *expirable.LRU[string, Estimate]
}

// NewEstimator creates an estimator. Both arguments may be nil: a nil
// traffic client forces the model path, a nil cache disables the shared
// memo layer.
func NewEstimator(traffic TrafficClient, cacheManager *cache.Manager) *Estimator {
	return &Estimator{
		traffic: traffic,
		cache:   cacheManager,
		memo:    expirable.NewLRU[string, Estimate](memoEntries, nil, memoTTL),
	}
}

// Estimate returns the travel cost from one site to another departing at
// the given time. departAt must be in the business's local timezone; the
// rush-hour windows are read from its wall clock. Estimates are never
// negative and zero-distance legs cost the transition overhead only.
func (e *Estimator) Estimate(ctx context.Context, from, to models.Coordinates, departAt time.Time) Estimate {
	miles := geodist.HaversineMiles(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	if miles == 0 {
		return Estimate{Minutes: transitionOverheadMinutes, Miles: 0, Source: SourceModel}
	}

	if e.traffic != nil {
		if est, ok := e.live(ctx, from, to, departAt); ok {
			return est
		}
	}

	return model(miles, departAt)
}

// ModelEstimate prices a leg with the rush-hour curve alone, ignoring any
// live traffic client. Planning beyond today uses it so offers do not
// depend on the moment's congestion.
func (e *Estimator) ModelEstimate(from, to models.Coordinates, departAt time.Time) Estimate {
	miles := geodist.HaversineMiles(from.Latitude, from.Longitude, to.Latitude, to.Longitude)
	if miles == 0 {
		return Estimate{Minutes: transitionOverheadMinutes, Miles: 0, Source: SourceModel}
	}
	return model(miles, departAt)
}

// live returns a memoized or fresh traffic-provider estimate. The second
// return is false when the provider failed and the model should be used.
func (e *Estimator) live(ctx context.Context, from, to models.Coordinates, departAt time.Time) (Estimate, bool) {
	key := cache.Keys.Travel(
		geo.CellFor(from.Latitude, from.Longitude),
		geo.CellFor(to.Latitude, to.Longitude),
		departAt.Weekday(), departAt.Hour(),
	)

	if est, ok := e.memo.Get(key); ok {
		return est, true
	}

	fetch := func() (Estimate, error) {
		leg, err := e.traffic.DriveTime(ctx, from, to, departAt)
		if err != nil {
			return Estimate{}, err
		}
		return Estimate{
			Minutes: int(math.Ceil(leg.Duration.Minutes())) + transitionOverheadMinutes,
			Miles:   leg.Miles,
			Source:  SourceLive,
		}, nil
	}

	var est Estimate
	var err error
	if e.cache != nil {
		err = e.cache.GetOrSet(ctx, key, cache.TTL.Short, &est, func() (interface{}, error) {
			return fetch()
		})
	} else {
		est, err = fetch()
	}
	if err != nil {
		logger.WarnContext(ctx, "live traffic lookup failed, using model",
			zap.Error(err),
			zap.String("leg", key),
		)
		return Estimate{}, false
	}

	e.memo.Add(key, est)
	return est, true
}

// model applies the piecewise rush-hour curve to straight-line drive time.
func model(miles float64, departAt time.Time) Estimate {
	base := geodist.DriveMinutes(miles) * rushFactor(departAt)
	return Estimate{
		Minutes: int(math.Ceil(base)) + transitionOverheadMinutes,
		Miles:   miles,
		Source:  SourceModel,
	}
}

// rushFactor returns the congestion multiplier for a local departure time.
// Windows are half-open: weekdays [07:00,10:00) and [16:00,19:00) at 1.9,
// Saturday [10:00,14:00) at 1.2, everything else 1.0.
func rushFactor(departAt time.Time) float64 {
	minuteOfDay := departAt.Hour()*60 + departAt.Minute()
	switch departAt.Weekday() {
	case time.Saturday:
		if minuteOfDay >= 10*60 && minuteOfDay < 14*60 {
			return saturdayRushFactor
		}
	case time.Sunday:
		// No rush windows.
	default:
		if (minuteOfDay >= 7*60 && minuteOfDay < 10*60) ||
			(minuteOfDay >= 16*60 && minuteOfDay < 19*60) {
			return weekdayRushFactor
		}
	}
	return 1.0
}
