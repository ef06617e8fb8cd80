package geo

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/resilience"
	"github.com/fieldline/dispatch/pkg/tracing"
	"go.uber.org/zap"
	"googlemaps.github.io/maps"
)

// tracerName scopes spans emitted by the geo package.
const tracerName = "github.com/fieldline/dispatch/internal/geo"

// defaultRegionBias steers ambiguous queries toward US results. Field
// service profiles use miles and USD, so this is the right default.
const defaultRegionBias = "us"

// biasBoxDegrees half-extends the viewport hint around the business anchor,
// roughly 24 miles of latitude. Soft bias only; matches outside still win.
const biasBoxDegrees = 0.35

// GoogleGeocoder resolves addresses through the Google Geocoding API.
// Every call runs under a per-attempt deadline with transient retry and
// the shared geocoding circuit breaker.
type GoogleGeocoder struct {
	client  *maps.Client
	breaker *resilience.CircuitBreaker
	timeout time.Duration
	region  string
}

// NewGoogleGeocoder creates a geocoder backed by the official maps client.
// A nil breaker disables circuit breaking but keeps retries.
func NewGoogleGeocoder(apiKey string, timeout time.Duration, breaker *resilience.CircuitBreaker) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &GoogleGeocoder{
		client:  client,
		breaker: breaker,
		timeout: timeout,
		region:  defaultRegionBias,
	}, nil
}

// SetRegion overrides the ccTLD region bias, e.g. "ca" for Canada.
func (g *GoogleGeocoder) SetRegion(region string) {
	g.region = region
}

// Geocode implements Geocoder.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address string, bias models.Coordinates) ([]Candidate, error) {
	req := &maps.GeocodingRequest{
		Address: address,
		Region:  g.region,
	}
	if bias.Latitude != 0 || bias.Longitude != 0 {
		req.Bounds = &maps.LatLngBounds{
			NorthEast: maps.LatLng{Lat: bias.Latitude + biasBoxDegrees, Lng: bias.Longitude + biasBoxDegrees},
			SouthWest: maps.LatLng{Lat: bias.Latitude - biasBoxDegrees, Lng: bias.Longitude - biasBoxDegrees},
		}
	}

	started := time.Now()
	var results []maps.GeocodingResult
	err := tracing.TraceExternalAPI(ctx, tracerName, "googlemaps", "geocode", func(ctx context.Context) error {
		result, err := resilience.RetryWithBreaker(ctx, resilience.TransientRetryConfig(), g.breaker, func(ctx context.Context) (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return g.client.Geocode(attemptCtx, req)
		})
		if err != nil {
			return err
		}
		results = result.([]maps.GeocodingResult)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("google geocode: %w", err)
	}

	logger.DebugContext(ctx, "geocoded address",
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return toCandidates(results), nil
}

func toCandidates(results []maps.GeocodingResult) []Candidate {
	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{
			FormattedAddress: r.FormattedAddress,
			Location: models.Coordinates{
				Latitude:  r.Geometry.Location.Lat,
				Longitude: r.Geometry.Location.Lng,
			},
			Confidence: confidenceFor(string(r.Geometry.LocationType)),
		})
	}
	return candidates
}

// confidenceFor maps Google location types onto the resolver's [0,1] scale.
func confidenceFor(locationType string) float64 {
	switch locationType {
	case string(maps.GeocodeAccuracyRooftop):
		return 1.0
	case string(maps.GeocodeAccuracyRangeInterpolated):
		return 0.8
	default:
		return 0.6
	}
}
