package geo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fieldline/dispatch/pkg/cache"
	geodist "github.com/fieldline/dispatch/pkg/geo"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/security"
	"github.com/fieldline/dispatch/pkg/tracing"
)

var (
	// ErrNeedSpecificAddress means the text is too vague to geocode
	// (no house number and no ZIP). The caller should ask the customer
	// for a street address instead of burning a geocoding call.
	ErrNeedSpecificAddress = errors.New("address text is not specific enough")

	// ErrGeocodeFailed means the provider errored or returned no match.
	ErrGeocodeFailed = errors.New("geocoding failed")
)

// Candidate is a single geocoding match.
type Candidate struct {
	FormattedAddress string             `json:"formatted_address"`
	Location         models.Coordinates `json:"location"`
	// Confidence maps the provider's location type to [0,1]:
	// rooftop 1.0, interpolated 0.8, anything coarser 0.6.
	Confidence float64 `json:"confidence"`
}

// Geocoder turns free-form address text into candidates, best match first.
// bias centers the search around the business so "Main St" resolves to the
// local one.
type Geocoder interface {
	Geocode(ctx context.Context, address string, bias models.Coordinates) ([]Candidate, error)
}

// ResolvedAddress is a customer address after normalization, geocoding and
// the service-area check.
type ResolvedAddress struct {
	Formatted     string
	Location      models.Coordinates
	Confidence    float64
	H3Cell        string
	DistanceMiles float64
	InServiceArea bool
	// Geocoded is false when no provider is configured and the address
	// was accepted at face value.
	Geocoded bool
}

// Resolver mediates between raw address text and a dispatchable location.
// A nil geocoder degrades to pass-through: the text is kept, the service
// area cannot be checked and is assumed valid.
type Resolver struct {
	geocoder Geocoder
	cache    *cache.Manager
}

// NewResolver creates an address resolver. Both arguments may be nil;
// a nil cache simply disables memoization.
func NewResolver(geocoder Geocoder, cacheManager *cache.Manager) *Resolver {
	return &Resolver{geocoder: geocoder, cache: cacheManager}
}

var (
	// houseNumberPattern matches "123 Main ..." style street addresses.
	houseNumberPattern = regexp.MustCompile(`^\d+\s+\S`)
	// zipPattern matches a standalone 5-digit ZIP anywhere in the text.
	zipPattern = regexp.MustCompile(`\b\d{5}\b`)
)

// Specific reports whether address text is precise enough to geocode:
// it must start with a house number or contain a 5-digit ZIP.
func Specific(text string) bool {
	normalized := security.NormalizeWhitespace(text)
	if normalized == "" {
		return false
	}
	return houseNumberPattern.MatchString(normalized) || zipPattern.MatchString(normalized)
}

// Resolve normalizes rawText, geocodes it biased around the business
// anchor, and annotates the result with distance, service-area membership
// and the H3 cell used for travel memoization.
//
// Geocode results are cached by normalized text for 24h; the service-area
// check always runs against the given profile.
func (r *Resolver) Resolve(ctx context.Context, rawText string, profile *models.BusinessProfile) (*ResolvedAddress, error) {
	normalized := security.NormalizeWhitespace(rawText)
	if !Specific(normalized) {
		return nil, ErrNeedSpecificAddress
	}

	anchor := profile.Anchor()

	if r.geocoder == nil {
		return &ResolvedAddress{
			Formatted:     normalized,
			InServiceArea: true,
			Geocoded:      false,
		}, nil
	}

	candidate, err := r.lookup(ctx, normalized, anchor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeocodeFailed, err)
	}

	distance := geodist.HaversineMiles(
		anchor.Latitude, anchor.Longitude,
		candidate.Location.Latitude, candidate.Location.Longitude,
	)
	tracing.AddSpanAttributes(ctx, tracing.LocationAttributes(candidate.Location.Latitude, candidate.Location.Longitude)...)

	return &ResolvedAddress{
		Formatted:     candidate.FormattedAddress,
		Location:      candidate.Location,
		Confidence:    candidate.Confidence,
		H3Cell:        CellFor(candidate.Location.Latitude, candidate.Location.Longitude),
		DistanceMiles: distance,
		InServiceArea: distance <= profile.ServiceRadiusMiles,
		Geocoded:      true,
	}, nil
}

// lookup returns the best geocoding candidate, memoized when a cache is
// configured. Failures and empty result sets are never cached.
func (r *Resolver) lookup(ctx context.Context, normalized string, bias models.Coordinates) (Candidate, error) {
	load := func() (Candidate, error) {
		candidates, err := r.geocoder.Geocode(ctx, normalized, bias)
		if err != nil {
			return Candidate{}, err
		}
		if len(candidates) == 0 {
			return Candidate{}, errors.New("no results")
		}
		return candidates[0], nil
	}

	if r.cache == nil {
		return load()
	}

	var candidate Candidate
	key := cache.Keys.Geocode(strings.ToLower(normalized))
	err := r.cache.GetOrSet(ctx, key, cache.TTL.VeryLong(), &candidate, func() (interface{}, error) {
		c, err := load()
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	return candidate, err
}
