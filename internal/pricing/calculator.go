package pricing

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"go.uber.org/zap"
)

// ErrJobUnsupported means the profile prices neither the requested job
// type nor a diagnostic visit.
var ErrJobUnsupported = errors.New("job type not priced for this trade")

// Bucket is a time-of-day pricing band in the business's local time.
type Bucket string

const (
	BucketWork         Bucket = "work"
	BucketEvening      Bucket = "evening"
	BucketNight        Bucket = "night"
	BucketEarlyMorning Bucket = "early_morning"
)

// weekendHolidayBump is added to the factor on Saturdays, Sundays and
// profile holidays, on top of the time bucket.
const weekendHolidayBump = 0.5

// Quote is one priced range for a job at a given start time.
type Quote struct {
	PriceMin int     `json:"price_min"`
	PriceMax int     `json:"price_max"`
	Currency string  `json:"currency"`
	Factor   float64 `json:"factor"`
	Bucket   Bucket  `json:"bucket"`
}

// BucketFor maps a local clock time to its pricing band: work 07:00-18:00,
// evening 18:00-19:30, early morning 06:00-07:00, night everything else.
func BucketFor(t time.Time) Bucket {
	m := t.Hour()*60 + t.Minute()
	switch {
	case m >= 7*60 && m < 18*60:
		return BucketWork
	case m >= 18*60 && m < 19*60+30:
		return BucketEvening
	case m >= 6*60 && m < 7*60:
		return BucketEarlyMorning
	default:
		return BucketNight
	}
}

// Price quotes a job starting at slotStart. Same inputs always produce the
// same quote; both bounds are ceiled to whole currency units. Non-emergency
// evening and night requests are quoted at next-morning work rates (the
// funnels never offer those starts anyway), and the returned Bucket names
// the band actually priced.
func Price(ctx context.Context, jobType string, slotStart time.Time, profile *models.BusinessProfile, isEmergency bool) (Quote, error) {
	estimate, ok := profile.EstimateFor(jobType)
	if !ok {
		return Quote{}, ErrJobUnsupported
	}

	local := slotStart.In(profile.Location())
	factor, bucket := factorFor(local, profile, estimate, isEmergency)

	q := Quote{
		PriceMin: int(math.Ceil(float64(estimate.CostMin) * factor)),
		PriceMax: int(math.Ceil(float64(estimate.CostMax) * factor)),
		Currency: profile.CurrencyOrDefault(),
		Factor:   factor,
		Bucket:   bucket,
	}

	logger.DebugContext(ctx, "job priced",
		zap.String("job_type", estimate.JobType),
		zap.Bool("emergency", isEmergency),
		zap.String("bucket", string(bucket)),
		zap.Float64("factor", factor))
	return q, nil
}

func factorFor(local time.Time, profile *models.BusinessProfile, estimate models.JobEstimate, isEmergency bool) (float64, Bucket) {
	bucket := BucketFor(local)

	var factor float64
	switch {
	case isEmergency && estimate.UrgencyMultiplier > 0:
		// Per-job override is flat across buckets.
		factor = estimate.UrgencyMultiplier
	case isEmergency:
		m := profile.Multipliers()
		switch bucket {
		case BucketWork:
			factor = m.Work
		case BucketEvening:
			factor = m.Evening
		case BucketNight:
			factor = m.Night
		case BucketEarlyMorning:
			factor = math.Max(m.Work, earlyMorningFactor(local))
		}
	default:
		switch bucket {
		case BucketWork:
			factor = 1.0
		case BucketEvening, BucketNight:
			factor = 1.0
			bucket = BucketWork
		case BucketEarlyMorning:
			factor = earlyMorningFactor(local)
		}
	}

	if isWeekend(local) || profile.IsHoliday(local) {
		factor += weekendHolidayBump
	}
	return factor, bucket
}

// earlyMorningFactor prices the priority half-hours: 1.5 for 06:00-06:30,
// 1.25 for 06:30-07:00. Callers guarantee the early morning bucket.
func earlyMorningFactor(local time.Time) float64 {
	if local.Minute() < 30 {
		return 1.5
	}
	return 1.25
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
