// Package scheduling turns a calendar snapshot into a concrete offer.
// It runs the same-day funnel when the urgency routing allows it, falls
// through to next-day windows, and reports every gate that rejected
// along the way.
package scheduling

import (
	"context"
	"time"

	"github.com/fieldline/dispatch/internal/travel"
	"github.com/fieldline/dispatch/internal/urgency"
	geodist "github.com/fieldline/dispatch/pkg/geo"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"go.uber.org/zap"
)

const (
	// nextDayHorizon bounds how far ahead the next-day funnel looks.
	nextDayHorizon = 7
	// arrivalWindow is the start range promised on tentative offers.
	arrivalWindow = 2 * time.Hour
	// longJobThreshold triggers the one-long-job-per-day mix rule.
	longJobThreshold = 3 * time.Hour
)

// nextDayBuckets partitions a future day into offer windows, each
// clipped to that day's business hours before scanning.
var nextDayBuckets = []struct {
	startHour int
	endHour   int
}{
	{8, 12},
	{12, 17},
	{17, 20},
}

// TravelEstimator supplies leg costs for funnel planning. Same-day
// placement may use live traffic; next-day planning prices with the
// average model only.
type TravelEstimator interface {
	Estimate(ctx context.Context, from, to models.Coordinates, departAt time.Time) travel.Estimate
	ModelEstimate(from, to models.Coordinates, departAt time.Time) travel.Estimate
}

// Request carries one funnel pass's inputs. Customer must already be
// geocoded; unresolved addresses never reach the engine.
type Request struct {
	Profile    *models.BusinessProfile
	Calendar   []models.CalendarEvent
	Now        time.Time
	JobType    string
	Customer   models.Coordinates
	Assessment urgency.Assessment
}

// Result is one funnel outcome. Slot is nil when nothing feasible
// exists. Reasons keeps the gates that rejected along the way, so a
// next-day offer made after a full same-day still reports
// capacity_exceeded in the decision's validation block.
type Result struct {
	Slot    *models.Slot
	Reasons []models.NoSlotReason
}

// Feasible reports whether an offer was found.
func (r *Result) Feasible() bool { return r.Slot != nil }

// Failed reports whether reason is among the recorded rejections.
func (r *Result) Failed(reason models.NoSlotReason) bool {
	for _, have := range r.Reasons {
		if have == reason {
			return true
		}
	}
	return false
}

func (r *Result) reject(reason models.NoSlotReason) {
	if reason == "" || r.Failed(reason) {
		return
	}
	r.Reasons = append(r.Reasons, reason)
}

// Engine finds appointment slots against a calendar snapshot.
type Engine struct {
	travel TravelEstimator
}

func NewEngine(travel TravelEstimator) *Engine {
	return &Engine{travel: travel}
}

// FindSlot gates the request, runs the same-day funnel when the routing
// allows it, and falls through to the next-day funnel.
func (e *Engine) FindSlot(ctx context.Context, req Request) Result {
	var res Result
	profile := req.Profile

	if !profile.Trade.Valid() {
		res.reject(models.ReasonTradeUnsupported)
		return res
	}
	estimate, ok := profile.EstimateFor(req.JobType)
	if !ok {
		res.reject(models.ReasonJobUnsupported)
		return res
	}

	anchor := profile.Anchor()
	distance := geodist.HaversineMiles(anchor.Latitude, anchor.Longitude, req.Customer.Latitude, req.Customer.Longitude)
	if distance > profile.ServiceRadiusMiles {
		res.reject(models.ReasonOutOfServiceArea)
		return res
	}

	if req.Assessment.Routing == urgency.RouteClosed || req.Assessment.Routing == urgency.RouteEscalate {
		reason := req.Assessment.Reason
		if reason == "" {
			reason = models.ReasonOutsidePhoneHours
		}
		res.reject(reason)
		return res
	}

	if profile.OutOfOffice {
		res.reject(models.ReasonOutOfOffice)
		return res
	}

	duration := time.Duration(estimate.EstimatedHours * float64(time.Hour))

	switch req.Assessment.Routing {
	case urgency.RouteSameDay, urgency.RouteAfterHours:
		if slot := e.sameDay(ctx, req, duration, &res); slot != nil {
			res.Slot = slot
			logSlot(ctx, req.JobType, slot)
			return res
		}
	default:
		res.reject(req.Assessment.Reason)
	}

	if slot := e.nextDay(req, duration, &res); slot != nil {
		res.Slot = slot
		logSlot(ctx, req.JobType, slot)
		return res
	}

	if len(res.Reasons) == 0 {
		res.reject(models.ReasonCapacityExceeded)
	}
	logger.DebugContext(ctx, "no feasible slot",
		zap.String("job_type", req.JobType),
		zap.Any("reasons", res.Reasons))
	return res
}

// sameDay scans today's remaining gaps. The window runs from now to
// business close; an eligible after-hours emergency runs to phone close
// instead and burns the after-hours quota, while overtime_allowed lets a
// job started in hours finish as late as phone close.
func (e *Engine) sameDay(ctx context.Context, req Request, duration time.Duration, res *Result) *models.Slot {
	profile := req.Profile
	loc := profile.Location()
	now := req.Now.In(loc)
	anchor := profile.Anchor()

	var startLimit, endLimit time.Time
	kind := models.SlotRegular

	if req.Assessment.Routing == urgency.RouteAfterHours {
		phoneClose, ok := phoneCloseOn(profile, now, loc)
		if !ok {
			res.reject(models.ReasonOutsidePhoneHours)
			return nil
		}
		startLimit, endLimit = phoneClose, phoneClose
		kind = models.SlotAfterHoursEmergency
	} else {
		hours, ok := models.HoursOn(profile.BusinessHours, now, loc)
		if !ok {
			res.reject(models.ReasonOutsideBusinessHours)
			return nil
		}
		_, closeAt, ok := hours.Window(now, loc)
		if !ok {
			res.reject(models.ReasonOutsideBusinessHours)
			return nil
		}
		startLimit, endLimit = closeAt, closeAt
		if profile.OvertimeAllowed {
			if phoneClose, ok := phoneCloseOn(profile, now, loc); ok && phoneClose.After(closeAt) {
				endLimit = phoneClose
			}
		}
	}

	todays := eventsOnDay(req.Calendar, now, loc)
	if profile.MaxJobsPerDay > 0 && len(todays) >= profile.MaxJobsPerDay {
		res.reject(models.ReasonCapacityExceeded)
		return nil
	}
	if kind == models.SlotAfterHoursEmergency && profile.MaxAfterHoursJobsPerDay > 0 &&
		countAfterHours(todays, now, profile) >= profile.MaxAfterHoursJobsPerDay {
		res.reject(models.ReasonAfterHoursQuotaUsed)
		return nil
	}

	cursor, from, pending := advanceCursor(mergeBusy(todays, anchor), now, anchor)

	p, limited := scan(scanArgs{
		profile:     profile,
		customer:    req.Customer,
		from:        from,
		blocks:      pending,
		windowStart: cursor,
		startLimit:  startLimit,
		endLimit:    endLimit,
		duration:    duration,
		buffer:      minutesOf(profile.MinBufferMinutes),
		cost: func(fromLoc, to models.Coordinates, departAt time.Time) travel.Estimate {
			return e.travel.Estimate(ctx, fromLoc, to, departAt)
		},
	})
	if p == nil {
		switch {
		case limited:
			res.reject(models.ReasonTravelLimitsExceeded)
		case len(todays) > 0:
			res.reject(models.ReasonCapacityExceeded)
		default:
			res.reject(models.ReasonOutsideBusinessHours)
		}
		return nil
	}

	return buildSlot(p, duration, kind, models.BookingConfirmed, p.start.Add(duration))
}

// nextDay offers the earliest workable window up to a week out. Legs are
// priced with the travel model alone and the offer stays tentative until
// the customer confirms. Emergencies that could not be placed today get
// the whole day from open, so the first visit of the day can be offered;
// everything else goes through the standard buckets.
func (e *Engine) nextDay(req Request, duration time.Duration, res *Result) *models.Slot {
	profile := req.Profile
	loc := profile.Location()
	anchor := profile.Anchor()
	buffer := minutesOf(profile.MinBufferMinutes)

	for offset := 1; offset <= nextDayHorizon; offset++ {
		day := req.Now.In(loc).AddDate(0, 0, offset)

		hours, ok := models.HoursOn(profile.BusinessHours, day, loc)
		if !ok {
			continue
		}
		openAt, closeAt, ok := hours.Window(day, loc)
		if !ok {
			continue
		}

		events := eventsOnDay(req.Calendar, day, loc)
		if profile.MaxJobsPerDay > 0 && len(events) >= profile.MaxJobsPerDay {
			res.reject(models.ReasonCapacityExceeded)
			continue
		}
		if duration >= longJobThreshold && hasLongJob(events) {
			res.reject(models.ReasonCapacityExceeded)
			continue
		}

		blocks := mergeBusy(events, anchor)

		for _, w := range nextDayWindows(req.Assessment.IsEmergency, day, openAt, closeAt, loc) {
			cursor, from, pending := advanceCursor(blocks, w.start, anchor)

			p, limited := scan(scanArgs{
				profile:     profile,
				customer:    req.Customer,
				from:        from,
				blocks:      pending,
				windowStart: cursor,
				startLimit:  w.end,
				endLimit:    closeAt,
				duration:    duration,
				buffer:      buffer,
				cost:        e.travel.ModelEstimate,
			})
			if limited {
				res.reject(models.ReasonTravelLimitsExceeded)
			}
			if p == nil {
				continue
			}

			arrivalEnd := p.start.Add(arrivalWindow)
			if arrivalEnd.After(closeAt) {
				arrivalEnd = closeAt
			}
			kind := models.SlotRegular
			if p.start.In(loc).Hour() == 6 {
				kind = models.SlotEarlyMorningPriority
			}
			return buildSlot(p, duration, kind, models.BookingTentative, arrivalEnd)
		}
	}
	return nil
}

// window is a start range scanned on a future day.
type window struct {
	start time.Time
	end   time.Time
}

func nextDayWindows(emergency bool, day time.Time, openAt, closeAt time.Time, loc *time.Location) []window {
	if emergency {
		return []window{{start: openAt, end: closeAt}}
	}
	out := make([]window, 0, len(nextDayBuckets))
	for _, b := range nextDayBuckets {
		w := window{start: clockOn(day, b.startHour, loc), end: clockOn(day, b.endHour, loc)}
		if w.start.Before(openAt) {
			w.start = openAt
		}
		if w.end.After(closeAt) {
			w.end = closeAt
		}
		if w.end.After(w.start) {
			out = append(out, w)
		}
	}
	return out
}

func phoneCloseOn(profile *models.BusinessProfile, day time.Time, loc *time.Location) (time.Time, bool) {
	hours, ok := models.HoursOn(profile.EffectivePhoneHours(), day, loc)
	if !ok {
		return time.Time{}, false
	}
	_, closeAt, ok := hours.Window(day, loc)
	if !ok {
		return time.Time{}, false
	}
	return closeAt, true
}

func buildSlot(p *placement, duration time.Duration, kind models.SlotKind, booking models.BookingType, arrivalEnd time.Time) *models.Slot {
	return &models.Slot{
		Start:            p.start,
		End:              p.start.Add(duration),
		ArrivalWindowEnd: arrivalEnd,
		ResourceID:       models.DefaultResourceID,
		Kind:             kind,
		BookingType:      booking,
		TravelInMinutes:  p.travelIn.Minutes,
		TravelOutMinutes: p.travelOut.Minutes,
	}
}

func logSlot(ctx context.Context, jobType string, slot *models.Slot) {
	logger.DebugContext(ctx, "slot found",
		zap.String("job_type", jobType),
		zap.Time("start", slot.Start),
		zap.Time("end", slot.End),
		zap.String("kind", string(slot.Kind)),
		zap.String("booking_type", string(slot.BookingType)))
}
