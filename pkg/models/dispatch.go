package models

import (
	"strings"
	"time"
)

// Trade identifies the service vertical a business operates in.
type Trade string

const (
	TradePlumbing   Trade = "plumbing"
	TradeElectrical Trade = "electrical"
	TradeHVAC       Trade = "hvac"
	TradeLocksmith  Trade = "locksmith"
	TradeGarageDoor Trade = "garage_door"
)

// Valid reports whether the trade is one the dispatcher supports.
func (t Trade) Valid() bool {
	switch t {
	case TradePlumbing, TradeElectrical, TradeHVAC, TradeLocksmith, TradeGarageDoor:
		return true
	}
	return false
}

// Role identifies who authored a conversation turn.
type Role string

const (
	RoleBot      Role = "bot"
	RoleCustomer Role = "customer"
)

// Urgency is the urgency band read from the customer's language.
type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyNormal    Urgency = "normal"
)

// Confirmation is the yes/no reading of the current message, when the
// conversation is waiting on one.
type Confirmation string

const (
	ConfirmationYes     Confirmation = "yes"
	ConfirmationNo      Confirmation = "no"
	ConfirmationUnknown Confirmation = "unknown"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Turn is one prior message in the conversation, oldest first.
type Turn struct {
	Sender    Role      `json:"sender" binding:"required,oneof=bot customer"`
	Text      string    `json:"text" binding:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// HoursRange is a single day's opening window in the business's local time.
type HoursRange struct {
	Start string `json:"start" binding:"required,hhmm"`
	End   string `json:"end" binding:"required,hhmm"`
}

// JobEstimate prices one job type for a business.
type JobEstimate struct {
	JobType        string  `json:"job_type" binding:"required"`
	EstimatedHours float64 `json:"estimated_hours" binding:"gt=0"`
	CostMin        int     `json:"cost_min" binding:"gte=0"`
	CostMax        int     `json:"cost_max" binding:"gtefield=CostMin"`
	// UrgencyMultiplier, when positive, replaces the profile's emergency
	// multiplier matrix for this job across all time buckets.
	UrgencyMultiplier float64 `json:"urgency_multiplier,omitempty" binding:"omitempty,gte=1"`
}

// EmergencyMultipliers prices emergency work by time-of-day bucket.
type EmergencyMultipliers struct {
	Work    float64 `json:"work"`
	Evening float64 `json:"evening"`
	Night   float64 `json:"night"`
}

// BusinessProfile is the per-business context shipped with every turn.
// The dispatcher never stores it; each request is self-contained.
type BusinessProfile struct {
	BusinessName              string                `json:"business_name" binding:"required,max=200"`
	Trade                     Trade                 `json:"trade" binding:"required,trade"`
	Timezone                  string                `json:"timezone,omitempty"`
	Address                   string                `json:"address,omitempty"`
	Latitude                  float64               `json:"lat" binding:"latitude"`
	Longitude                 float64               `json:"lng" binding:"longitude"`
	ServiceRadiusMiles        float64               `json:"service_radius_miles" binding:"required,gte=1,lte=100"`
	BusinessHours             map[string]HoursRange `json:"business_hours" binding:"required,dive"`
	PhoneHours                map[string]HoursRange `json:"phone_hours,omitempty" binding:"omitempty,dive"`
	MaxJobsPerDay             int                   `json:"max_jobs_per_day" binding:"gte=0"`
	MinBufferMinutes          int                   `json:"min_buffer_between_jobs" binding:"gte=0"`
	MaxAfterHoursJobsPerDay   int                   `json:"max_after_hours_jobs_per_day" binding:"gte=0"`
	MaxTravelTimeMinutes      int                   `json:"max_travel_time_minutes" binding:"gte=0"`
	MaxTravelDistanceMiles    float64               `json:"max_travel_distance_miles" binding:"gte=0"`
	AcceptEmergencies         bool                  `json:"accept_emergencies"`
	OutOfOffice               bool                  `json:"out_of_office"`
	OvertimeAllowed           bool                  `json:"overtime_allowed"`
	AcceptAfterHoursEmergency bool                  `json:"accept_after_hours_emergency"`
	Pricing                   []JobEstimate         `json:"pricing" binding:"required,min=1,dive"`
	EmergencyMultipliers      *EmergencyMultipliers `json:"emergency_multipliers,omitempty"`
	EmergencyPhone            string                `json:"emergency_phone,omitempty" binding:"omitempty,e164"`
	Currency                  string                `json:"currency,omitempty"`
	Holidays                  []string              `json:"holidays,omitempty"` // YYYY-MM-DD
}

// Anchor returns the business's base location.
func (p *BusinessProfile) Anchor() Coordinates {
	return Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Location resolves the profile timezone, falling back to UTC.
func (p *BusinessProfile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EstimateFor looks up the pricing entry for a job type. When the job type is
// unknown it falls back to the profile's diagnostic entry, if one exists.
func (p *BusinessProfile) EstimateFor(jobType string) (JobEstimate, bool) {
	for _, e := range p.Pricing {
		if e.JobType == jobType {
			return e, true
		}
	}
	for _, e := range p.Pricing {
		if e.JobType == JobTypeDiagnostic {
			return e, true
		}
	}
	return JobEstimate{}, false
}

// Offers reports whether the pricing table lists jobType exactly, with no
// diagnostic fallback.
func (p *BusinessProfile) Offers(jobType string) bool {
	for _, e := range p.Pricing {
		if e.JobType == jobType {
			return true
		}
	}
	return false
}

// JobTypes returns the pricing table's job types in listed order.
func (p *BusinessProfile) JobTypes() []string {
	types := make([]string, 0, len(p.Pricing))
	for _, e := range p.Pricing {
		types = append(types, e.JobType)
	}
	return types
}

// JobTypeDiagnostic is the fallback visit quoted when classification
// confidence is too low to pick a specific estimate.
const JobTypeDiagnostic = "diagnostic"

// Multipliers returns the emergency pricing matrix with defaults applied.
func (p *BusinessProfile) Multipliers() EmergencyMultipliers {
	m := EmergencyMultipliers{Work: 1.5, Evening: 2.0, Night: 2.5}
	if p.EmergencyMultipliers != nil {
		if p.EmergencyMultipliers.Work > 0 {
			m.Work = p.EmergencyMultipliers.Work
		}
		if p.EmergencyMultipliers.Evening > 0 {
			m.Evening = p.EmergencyMultipliers.Evening
		}
		if p.EmergencyMultipliers.Night > 0 {
			m.Night = p.EmergencyMultipliers.Night
		}
	}
	return m
}

// CurrencyOrDefault returns the quoting currency.
func (p *BusinessProfile) CurrencyOrDefault() string {
	if p.Currency == "" {
		return "USD"
	}
	return p.Currency
}

// EffectivePhoneHours returns the phone hours table, defaulting to
// business hours when none is configured.
func (p *BusinessProfile) EffectivePhoneHours() map[string]HoursRange {
	if len(p.PhoneHours) > 0 {
		return p.PhoneHours
	}
	return p.BusinessHours
}

// IsHoliday reports whether the local date of t is listed as a holiday.
func (p *BusinessProfile) IsHoliday(t time.Time) bool {
	day := t.In(p.Location()).Format("2006-01-02")
	for _, h := range p.Holidays {
		if h == day {
			return true
		}
	}
	return false
}

// HoursOn looks up an hours table for the local weekday of t. Keys are
// lowercase English weekday names; a missing key means closed.
func HoursOn(table map[string]HoursRange, t time.Time, loc *time.Location) (HoursRange, bool) {
	if table == nil {
		return HoursRange{}, false
	}
	day := strings.ToLower(t.In(loc).Weekday().String())
	hr, ok := table[day]
	return hr, ok
}

// Window materializes an HoursRange into concrete instants on t's local date.
// End at or before start means a zero-length window (closed).
func (h HoursRange) Window(t time.Time, loc *time.Location) (time.Time, time.Time, bool) {
	local := t.In(loc)
	openAt, ok := atClock(local, h.Start, loc)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	closeAt, ok := atClock(local, h.End, loc)
	if !ok || !closeAt.After(openAt) {
		return time.Time{}, time.Time{}, false
	}
	return openAt, closeAt, true
}

func atClock(day time.Time, clock string, loc *time.Location) (time.Time, bool) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), true
}

// EventLocation is where a calendar job takes place. Coordinates are
// optional; events without them are assumed at the business anchor.
type EventLocation struct {
	Address   string   `json:"address,omitempty"`
	Latitude  *float64 `json:"lat,omitempty" binding:"omitempty,latitude"`
	Longitude *float64 `json:"lng,omitempty" binding:"omitempty,longitude"`
}

// CalendarEvent is one busy block from the business's calendar snapshot.
type CalendarEvent struct {
	EventID     string         `json:"event_id,omitempty"`
	Start       time.Time      `json:"start" binding:"required"`
	End         time.Time      `json:"end" binding:"required"`
	Location    *EventLocation `json:"location,omitempty"`
	BookingType BookingType    `json:"booking_type,omitempty" binding:"omitempty,oneof=confirmed tentative"`
	JobType     string         `json:"job_type,omitempty"`
}

// Coordinates returns the event's location, or the fallback when absent.
func (e CalendarEvent) Coordinates(fallback Coordinates) Coordinates {
	if e.Location != nil && e.Location.Latitude != nil && e.Location.Longitude != nil {
		return Coordinates{Latitude: *e.Location.Latitude, Longitude: *e.Location.Longitude}
	}
	return fallback
}

// DispatchRequest is one inbound SMS turn plus the full business context.
type DispatchRequest struct {
	CallerPhone         string          `json:"caller_phone" binding:"required,e164"`
	CalledNumber        string          `json:"called_number" binding:"required,e164"`
	ConversationSID     string          `json:"conversation_sid" binding:"required,max=128"`
	CurrentMessage      string          `json:"current_message" binding:"required,min=1,max=1000"`
	ConversationHistory []Turn          `json:"conversation_history,omitempty" binding:"omitempty,dive"`
	Profile             BusinessProfile `json:"business_profile" binding:"required"`
	Calendar            []CalendarEvent `json:"calendar,omitempty" binding:"omitempty,dive"`
	CurrentTime         time.Time       `json:"current_time" binding:"required"`
}

// Extraction is the typed reading of one customer message.
type Extraction struct {
	JobType           string       `json:"job_type,omitempty"`
	JobConfidence     float64      `json:"job_confidence"`
	Urgency           Urgency      `json:"urgency_hint"`
	UrgencyConfidence float64      `json:"urgency_confidence"`
	AddressText       string       `json:"address_text,omitempty"`
	Confirmation      Confirmation `json:"confirmation"`
}
