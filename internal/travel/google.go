package travel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/resilience"
	"github.com/fieldline/dispatch/pkg/tracing"
	"googlemaps.github.io/maps"
)

const (
	metersPerMile = 1609.344
	tracerName    = "github.com/fieldline/dispatch/internal/travel"
)

// GoogleTraffic looks up drive times through the Distance Matrix API with
// a traffic-aware departure time. Calls run under a per-attempt deadline
// with transient retry and the shared traffic circuit breaker.
type GoogleTraffic struct {
	client  *maps.Client
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGoogleTraffic creates a traffic client backed by the official maps
// client. A nil breaker disables circuit breaking but keeps retries.
func NewGoogleTraffic(apiKey string, timeout time.Duration, breaker *resilience.CircuitBreaker) (*GoogleTraffic, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &GoogleTraffic{client: client, breaker: breaker, timeout: timeout}, nil
}

// DriveTime implements TrafficClient.
func (g *GoogleTraffic) DriveTime(ctx context.Context, from, to models.Coordinates, departAt time.Time) (Leg, error) {
	req := &maps.DistanceMatrixRequest{
		Origins:       []string{formatLatLng(from)},
		Destinations:  []string{formatLatLng(to)},
		Mode:          maps.TravelModeDriving,
		DepartureTime: departureParam(departAt, time.Now()),
		TrafficModel:  maps.TrafficModelBestGuess,
	}

	var resp *maps.DistanceMatrixResponse
	err := tracing.TraceExternalAPI(ctx, tracerName, "googlemaps", "distance_matrix", func(ctx context.Context) error {
		result, err := resilience.RetryWithBreaker(ctx, resilience.TransientRetryConfig(), g.breaker, func(ctx context.Context) (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()
			return g.client.DistanceMatrix(attemptCtx, req)
		})
		if err != nil {
			return err
		}
		resp = result.(*maps.DistanceMatrixResponse)
		return nil
	})
	if err != nil {
		return Leg{}, fmt.Errorf("distance matrix: %w", err)
	}

	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Leg{}, errors.New("distance matrix: empty response")
	}

	element := resp.Rows[0].Elements[0]
	if element.Status != "OK" {
		return Leg{}, fmt.Errorf("distance matrix: element status %s", element.Status)
	}

	duration := element.Duration
	if element.DurationInTraffic > 0 {
		duration = element.DurationInTraffic
	}

	return Leg{
		Duration: duration,
		Miles:    math.Round(float64(element.Distance.Meters)/metersPerMile*100) / 100,
	}, nil
}

func formatLatLng(c models.Coordinates) string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// departureParam formats the departure time for the API, which rejects
// timestamps in the past. Past or current departures become "now".
func departureParam(departAt, now time.Time) string {
	if departAt.After(now) {
		return strconv.FormatInt(departAt.Unix(), 10)
	}
	return "now"
}
