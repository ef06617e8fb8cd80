// Package dispatch turns one inbound SMS turn into a Decision: what to
// text back and what the booking layer should do next. It owns the gate
// order across the NLU, geo, urgency, scheduling and pricing packages;
// everything it knows about the conversation comes from the request.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/fieldline/dispatch/internal/geo"
	"github.com/fieldline/dispatch/internal/nlu"
	"github.com/fieldline/dispatch/internal/pricing"
	"github.com/fieldline/dispatch/internal/scheduling"
	"github.com/fieldline/dispatch/internal/urgency"
	"github.com/fieldline/dispatch/pkg/async"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/tracing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tracerName = "github.com/fieldline/dispatch/internal/dispatch"

// Follow-up nudges when the customer goes quiet mid-flow. Terminal
// decisions schedule none.
const (
	followUpConfirmMinutes = 15
	followUpCollectMinutes = 30
)

// Extractor reads one turn into typed fields.
type Extractor interface {
	Extract(ctx context.Context, req *models.DispatchRequest) (models.Extraction, nlu.Source)
}

// AddressResolver turns address text into a checked location.
type AddressResolver interface {
	Resolve(ctx context.Context, text string, profile *models.BusinessProfile) (*geo.ResolvedAddress, error)
}

// SlotFinder runs the scheduling funnels against a calendar snapshot.
type SlotFinder interface {
	FindSlot(ctx context.Context, req scheduling.Request) scheduling.Result
}

// Service decides one conversation turn at a time.
type Service struct {
	extractor Extractor
	resolver  AddressResolver
	finder    SlotFinder
}

func NewService(extractor Extractor, resolver AddressResolver, finder SlotFinder) *Service {
	return &Service{extractor: extractor, resolver: resolver, finder: finder}
}

// Process produces the Decision for one turn. It always returns one; a
// degraded provider narrows the options but never turns into an error the
// SMS layer would have to interpret.
func (s *Service) Process(ctx context.Context, req *models.DispatchRequest) *models.Decision {
	started := time.Now()
	d := s.decide(ctx, req)
	decisionsTotal.WithLabelValues(string(d.Action), string(d.Stage)).Inc()
	logger.InfoContext(ctx, "turn decided",
		zap.String("action", string(d.Action)),
		zap.String("stage", string(d.Stage)),
		zap.Bool("slot_offered", d.ProposedSlot != nil),
		zap.Duration("elapsed", time.Since(started)))
	return d
}

func (s *Service) decide(ctx context.Context, req *models.DispatchRequest) *models.Decision {
	conv := readConversation(req)
	comp := newComposer(req, conv)
	profile := &req.Profile

	d := newDecision(profile, req.CurrentTime)

	// A thread this stale is dead; the reply invites a fresh start
	// rather than resuming an offer the customer no longer remembers.
	if conv.TimedOut {
		d.Stage = models.StageTimeout
		d.Action = models.ActionEndConversation
		d.Message = comp.timedOut()
		return d
	}

	extraction, source, pre := s.extractAndPrewarm(ctx, req)
	d.ExtractedInfo = &extraction
	extractionsTotal.WithLabelValues(string(source)).Inc()

	assessment := urgency.Classify(ctx, extraction, profile, req.CurrentTime)

	// A booked customer texting again gets an acknowledgment, not a
	// second pass through scheduling.
	if conv.Stage == models.StageComplete {
		d.Stage = models.StageComplete
		d.Action = models.ActionEndConversation
		d.Message = comp.alreadyBooked()
		return d
	}

	// The reachability gate outranks everything below it, including a
	// pending confirmation: a YES arriving at 23:30 must not book a slot
	// that was offered for the afternoon.
	switch assessment.Routing {
	case urgency.RouteClosed:
		appendReason(d, assessment.Reason)
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		if assessment.Reason == models.ReasonOutOfOffice {
			d.Message = comp.outOfOffice()
		} else {
			d.Message = comp.closed()
		}
		return d
	case urgency.RouteEscalate:
		appendReason(d, assessment.Reason)
		d.Stage = models.StageEscalated
		d.Action = models.ActionEscalateToOwner
		d.Message = comp.escalatedEmergency()
		return d
	}

	if conv.Stage == models.StageConfirming {
		switch extraction.Confirmation {
		case models.ConfirmationYes:
			return s.book(ctx, req, d, comp, extraction, assessment, pre)
		case models.ConfirmationNo:
			return s.alternative(ctx, req, d, comp, conv, extraction, assessment, pre)
		}
		// Neither yes nor no: the customer volunteered something else.
		// Fall through and let the regular flow re-offer or ask.
	}

	return s.advance(ctx, req, d, comp, conv, extraction, assessment, pre)
}

// advance is the info-gathering and scheduling path: ask for whatever is
// still missing, resolve the address, find a slot, price it, offer it.
func (s *Service) advance(ctx context.Context, req *models.DispatchRequest, d *models.Decision, comp composer, conv conversation, extraction models.Extraction, assessment urgency.Assessment, pre *prewarmed) *models.Decision {
	profile := &req.Profile

	switch {
	case extraction.JobType == "" && extraction.AddressText == "":
		return ask(d, comp, conv, comp.askJobAndAddress())
	case extraction.AddressText == "":
		return ask(d, comp, conv, comp.askAddress())
	case extraction.JobType == "" && !profile.Offers(models.JobTypeDiagnostic):
		// Without a diagnostic rate there is nothing to quote blind.
		return ask(d, comp, conv, comp.askJob())
	}

	resolved, err := s.resolveAddress(ctx, extraction.AddressText, profile, pre)
	switch {
	case errors.Is(err, geo.ErrNeedSpecificAddress):
		return ask(d, comp, conv, comp.askSpecificAddress())
	case err != nil:
		appendReason(d, models.ReasonGeocodeFailed)
		return ask(d, comp, conv, comp.askAddressAgain())
	}

	if !resolved.InServiceArea {
		appendReason(d, models.ReasonOutOfServiceArea)
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		d.Message = comp.outOfArea(resolved.DistanceMiles)
		return d
	}

	result := s.finder.FindSlot(ctx, scheduling.Request{
		Profile:    profile,
		Calendar:   req.Calendar,
		Now:        req.CurrentTime,
		JobType:    extraction.JobType,
		Customer:   customerCoords(resolved, profile),
		Assessment: assessment,
	})
	applyReasons(d, result.Reasons)
	if !result.Feasible() {
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		d.Message = comp.noSlot(result.Reasons)
		return d
	}

	quote, err := pricing.Price(ctx, extraction.JobType, result.Slot.Start, profile, assessment.IsEmergency)
	if err != nil {
		appendReason(d, models.ReasonJobUnsupported)
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		d.Message = comp.noSlot(d.Validation.Errors)
		return d
	}

	slot := result.Slot
	slot.PriceMin, slot.PriceMax = quote.PriceMin, quote.PriceMax
	d.ProposedSlot = slot
	d.PriceMin, d.PriceMax, d.Currency = quote.PriceMin, quote.PriceMax, quote.Currency
	d.Stage = models.StageConfirming
	d.Action = models.ActionRequestConfirmation
	d.FollowUpNeeded = true
	d.FollowUpDelayMinutes = followUpConfirmMinutes

	if slot.Kind == models.SlotAfterHoursEmergency {
		if nextQuote, nextStart, ok := s.nextOpenQuote(ctx, extraction.JobType, profile, req.CurrentTime, assessment.IsEmergency); ok {
			d.Message = comp.afterHoursChoice(slot, quote, nextQuote, nextStart)
			return d
		}
	}
	d.Message = comp.offer(slot, quote, !d.Validation.CapacityAvailable)
	return d
}

// book handles a YES while an offer is pending. The slot is recomputed
// from the same history that produced the offer; when the calendar moved
// underneath us the booking still completes and dispatch sorts out the
// exact window by phone.
func (s *Service) book(ctx context.Context, req *models.DispatchRequest, d *models.Decision, comp composer, extraction models.Extraction, assessment urgency.Assessment, pre *prewarmed) *models.Decision {
	d.Stage = models.StageComplete
	d.Action = models.ActionBookAppointment
	d.BookingReference = uuid.NewString()

	if offer, ok := s.recomputeOffer(ctx, req, extraction, assessment, pre, nil); ok {
		offer.slot.PriceMin, offer.slot.PriceMax = offer.quote.PriceMin, offer.quote.PriceMax
		d.ProposedSlot = offer.slot
		d.PriceMin, d.PriceMax, d.Currency = offer.quote.PriceMin, offer.quote.PriceMax, offer.quote.Currency
	}
	d.Message = comp.booked(d.ProposedSlot, d.BookingReference)
	return d
}

// alternative handles a NO. The declined window is blocked with a
// synthetic calendar hold and the funnel reruns; a second decline closes
// the thread instead of cycling offers forever.
func (s *Service) alternative(ctx context.Context, req *models.DispatchRequest, d *models.Decision, comp composer, conv conversation, extraction models.Extraction, assessment urgency.Assessment, pre *prewarmed) *models.Decision {
	if conv.Declines >= 1 {
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		d.Message = comp.declined()
		return d
	}

	first, ok := s.recomputeOffer(ctx, req, extraction, assessment, pre, nil)
	if !ok {
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		d.Message = comp.declined()
		return d
	}

	lat, lng := first.customer.Latitude, first.customer.Longitude
	hold := models.CalendarEvent{
		Start:       first.slot.Start,
		End:         first.slot.End,
		Location:    &models.EventLocation{Latitude: &lat, Longitude: &lng},
		BookingType: models.BookingConfirmed,
		JobType:     extraction.JobType,
	}
	second, ok := s.recomputeOffer(ctx, req, extraction, assessment, pre, []models.CalendarEvent{hold})
	if !ok {
		d.Stage = models.StageRejected
		d.Action = models.ActionEndConversation
		d.Message = comp.noAlternative()
		return d
	}

	second.slot.PriceMin, second.slot.PriceMax = second.quote.PriceMin, second.quote.PriceMax
	d.ProposedSlot = second.slot
	d.PriceMin, d.PriceMax, d.Currency = second.quote.PriceMin, second.quote.PriceMax, second.quote.Currency
	d.Stage = models.StageConfirming
	d.Action = models.ActionRequestConfirmation
	d.FollowUpNeeded = true
	d.FollowUpDelayMinutes = followUpConfirmMinutes
	d.Message = comp.alternativeOffer(second.slot, second.quote)
	return d
}

// offerComputation is one rerun of resolve + schedule + price.
type offerComputation struct {
	slot     *models.Slot
	quote    pricing.Quote
	customer models.Coordinates
}

func (s *Service) recomputeOffer(ctx context.Context, req *models.DispatchRequest, extraction models.Extraction, assessment urgency.Assessment, pre *prewarmed, extra []models.CalendarEvent) (offerComputation, bool) {
	if extraction.AddressText == "" {
		return offerComputation{}, false
	}
	profile := &req.Profile
	resolved, err := s.resolveAddress(ctx, extraction.AddressText, profile, pre)
	if err != nil || !resolved.InServiceArea {
		return offerComputation{}, false
	}

	calendar := req.Calendar
	if len(extra) > 0 {
		calendar = make([]models.CalendarEvent, 0, len(req.Calendar)+len(extra))
		calendar = append(calendar, req.Calendar...)
		calendar = append(calendar, extra...)
	}

	customer := customerCoords(resolved, profile)
	result := s.finder.FindSlot(ctx, scheduling.Request{
		Profile:    profile,
		Calendar:   calendar,
		Now:        req.CurrentTime,
		JobType:    extraction.JobType,
		Customer:   customer,
		Assessment: assessment,
	})
	if !result.Feasible() {
		return offerComputation{}, false
	}
	quote, err := pricing.Price(ctx, extraction.JobType, result.Slot.Start, profile, assessment.IsEmergency)
	if err != nil {
		return offerComputation{}, false
	}
	return offerComputation{slot: result.Slot, quote: quote, customer: customer}, true
}

// nextOpenQuote prices the job at the next day's opening, for the
// tonight-or-tomorrow choice on after-hours emergencies.
func (s *Service) nextOpenQuote(ctx context.Context, jobType string, profile *models.BusinessProfile, now time.Time, isEmergency bool) (pricing.Quote, time.Time, bool) {
	loc := profile.Location()
	for i := 1; i <= 7; i++ {
		day := now.In(loc).AddDate(0, 0, i)
		hours, ok := models.HoursOn(profile.BusinessHours, day, loc)
		if !ok {
			continue
		}
		open, _, ok := hours.Window(day, loc)
		if !ok || profile.IsHoliday(open) {
			continue
		}
		quote, err := pricing.Price(ctx, jobType, open, profile, isEmergency)
		if err != nil {
			return pricing.Quote{}, time.Time{}, false
		}
		return quote, open, true
	}
	return pricing.Quote{}, time.Time{}, false
}

// prewarmed is the address work raced alongside the model call. It is
// only reused when the extractor lands on the same text, so a smarter
// model reading never loses to the cheap regex.
type prewarmed struct {
	text     string
	resolved *geo.ResolvedAddress
	err      error
}

func (s *Service) extractAndPrewarm(ctx context.Context, req *models.DispatchRequest) (models.Extraction, nlu.Source, *prewarmed) {
	var (
		extraction models.Extraction
		source     nlu.Source
		pre        prewarmed
	)
	async.RunAll(ctx, "extract_and_prewarm",
		func(ctx context.Context) {
			_ = tracing.TracePipelineStage(ctx, tracerName, "nlu.extract", nil, func(ctx context.Context) error {
				extraction, source = s.extractor.Extract(ctx, req)
				return nil
			})
		},
		func(ctx context.Context) {
			pre.text = nlu.ExtractAddress(req.CurrentMessage)
			if pre.text == "" {
				return
			}
			pre.err = tracing.TracePipelineStage(ctx, tracerName, "geo.prewarm", nil, func(ctx context.Context) error {
				var err error
				pre.resolved, err = s.resolver.Resolve(ctx, pre.text, &req.Profile)
				return err
			})
		},
	)
	return extraction, source, &pre
}

func (s *Service) resolveAddress(ctx context.Context, text string, profile *models.BusinessProfile, pre *prewarmed) (*geo.ResolvedAddress, error) {
	if pre != nil && pre.text == text && (pre.resolved != nil || pre.err != nil) {
		return pre.resolved, pre.err
	}
	return s.resolver.Resolve(ctx, text, profile)
}

// ask sends a question when the budget allows it, otherwise hands the
// thread to a person.
func ask(d *models.Decision, comp composer, conv conversation, question string) *models.Decision {
	if !conv.CanAsk(question) {
		d.Stage = models.StageEscalated
		d.Action = models.ActionEscalateToOwner
		d.Message = comp.handoff()
		return d
	}
	d.Stage = models.StageCollectingInfo
	d.Action = models.ActionContinueConversation
	d.Message = question
	d.FollowUpNeeded = true
	d.FollowUpDelayMinutes = followUpCollectMinutes
	return d
}

func newDecision(profile *models.BusinessProfile, now time.Time) *models.Decision {
	return &models.Decision{
		Validation: models.Validation{
			ServiceAreaValid:    true,
			TradeSupported:      profile.Trade.Valid(),
			WithinBusinessHours: urgency.WithinBusinessHours(profile, now),
			CapacityAvailable:   true,
		},
	}
}

// customerCoords falls back to the business anchor when no geocoder is
// configured, which keeps distance math at zero instead of measuring to
// the null island.
func customerCoords(resolved *geo.ResolvedAddress, profile *models.BusinessProfile) models.Coordinates {
	if resolved.Geocoded {
		return resolved.Location
	}
	return profile.Anchor()
}

func appendReason(d *models.Decision, reason models.NoSlotReason) {
	if reason == "" {
		return
	}
	for _, have := range d.Validation.Errors {
		if have == reason {
			return
		}
	}
	d.Validation.Errors = append(d.Validation.Errors, reason)
	switch reason {
	case models.ReasonOutOfServiceArea:
		d.Validation.ServiceAreaValid = false
	case models.ReasonTradeUnsupported:
		d.Validation.TradeSupported = false
	case models.ReasonCapacityExceeded, models.ReasonAfterHoursQuotaUsed:
		d.Validation.CapacityAvailable = false
	}
}

func applyReasons(d *models.Decision, reasons []models.NoSlotReason) {
	for _, r := range reasons {
		appendReason(d, r)
	}
}
