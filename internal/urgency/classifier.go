package urgency

import (
	"context"
	"time"

	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"go.uber.org/zap"
)

// Routing names the funnel, or terminal action, a turn is eligible for
// once the urgency and time-of-day rules have run.
type Routing string

const (
	// RouteSameDay runs the same-day funnel first, inside business hours.
	RouteSameDay Routing = "same_day"
	// RouteAfterHours runs the same-day funnel with the candidate window
	// extended to phone close, for an eligible after-hours emergency.
	RouteAfterHours Routing = "after_hours"
	// RouteNextDay skips today entirely.
	RouteNextDay Routing = "next_day"
	// RouteEscalate hands the conversation to the owner.
	RouteEscalate Routing = "escalate"
	// RouteClosed means no scheduling this turn; the conversation ends.
	RouteClosed Routing = "closed"
)

// Assessment is the classifier's verdict for one turn.
type Assessment struct {
	IsEmergency bool
	Routing     Routing
	// Reason qualifies NextDay, Escalate and Closed routings for the
	// composer and the validation block. Empty for the schedulable routes.
	Reason models.NoSlotReason
}

// Classify applies the urgency and time-of-day decision table. The
// after-hours quota check stays with the scheduler, which owns the
// calendar snapshot; the classifier only decides which funnel may run.
func Classify(ctx context.Context, extraction models.Extraction, profile *models.BusinessProfile, now time.Time) Assessment {
	isEmergency := extraction.Urgency == models.UrgencyEmergency && profile.AcceptEmergencies

	a := Assessment{IsEmergency: isEmergency}
	switch {
	case !WithinPhoneHours(profile, now):
		a.Routing = RouteClosed
		a.Reason = models.ReasonOutsidePhoneHours
	case profile.OutOfOffice:
		if isEmergency {
			a.Routing = RouteEscalate
		} else {
			a.Routing = RouteClosed
		}
		a.Reason = models.ReasonOutOfOffice
	case WithinBusinessHours(profile, now):
		a.Routing = RouteSameDay
	case isEmergency && profile.AcceptAfterHoursEmergency:
		a.Routing = RouteAfterHours
	default:
		a.Routing = RouteNextDay
		a.Reason = models.ReasonOutsideBusinessHours
	}

	logger.DebugContext(ctx, "urgency classified",
		zap.String("urgency", string(extraction.Urgency)),
		zap.Bool("is_emergency", isEmergency),
		zap.String("routing", string(a.Routing)))
	return a
}

// WithinBusinessHours reports whether now falls inside the profile's
// business hours on its local weekday.
func WithinBusinessHours(profile *models.BusinessProfile, now time.Time) bool {
	return within(profile.BusinessHours, now, profile.Location())
}

// WithinPhoneHours reports whether the business is still reachable at now.
// Phone hours default to business hours when not configured.
func WithinPhoneHours(profile *models.BusinessProfile, now time.Time) bool {
	return within(profile.EffectivePhoneHours(), now, profile.Location())
}

func within(table map[string]models.HoursRange, now time.Time, loc *time.Location) bool {
	hours, ok := models.HoursOn(table, now, loc)
	if !ok {
		return false
	}
	open, close, ok := hours.Window(now, loc)
	if !ok {
		return false
	}
	local := now.In(loc)
	return !local.Before(open) && local.Before(close)
}
