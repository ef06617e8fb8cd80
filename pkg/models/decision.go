package models

import "time"

// Action is what the caller (the SMS layer) should do with this turn.
type Action string

const (
	ActionContinueConversation Action = "continue_conversation"
	ActionRequestConfirmation  Action = "request_confirmation"
	ActionBookAppointment      Action = "book_appointment"
	ActionEscalateToOwner      Action = "escalate_to_owner"
	ActionEndConversation      Action = "end_conversation"
)

// Stage is the conversation stage after this turn. It is derived from the
// request's history every turn; the dispatcher stores nothing.
type Stage string

const (
	StageInitial        Stage = "initial"
	StageCollectingInfo Stage = "collecting_info"
	StageConfirming     Stage = "confirming"
	StageComplete       Stage = "complete"
	StageRejected       Stage = "rejected"
	StageEscalated      Stage = "escalated"
	StageTimeout        Stage = "timeout"
)

// SlotKind distinguishes regular bookings from premium windows.
type SlotKind string

const (
	SlotRegular              SlotKind = "regular"
	SlotAfterHoursEmergency  SlotKind = "after_hours_emergency"
	SlotEarlyMorningPriority SlotKind = "early_morning_priority"
)

// BookingType marks whether a slot is firm or pending confirmation
// against a live calendar.
type BookingType string

const (
	BookingConfirmed BookingType = "confirmed"
	BookingTentative BookingType = "tentative"
)

// DefaultResourceID is the single crew every slot is assigned to.
const DefaultResourceID = "crew-1"

// Slot is a concrete appointment offer.
type Slot struct {
	Start            time.Time   `json:"start"`
	End              time.Time   `json:"end"`
	ArrivalWindowEnd time.Time   `json:"arrival_window_end"`
	ResourceID       string      `json:"resource_id"`
	Kind             SlotKind    `json:"slot_kind"`
	BookingType      BookingType `json:"booking_type"`
	TravelInMinutes  int         `json:"travel_from_prev_minutes"`
	TravelOutMinutes int         `json:"travel_to_next_minutes"`
	PriceMin         int         `json:"price_min"`
	PriceMax         int         `json:"price_max"`
}

// NoSlotReason explains why no feasible slot exists.
type NoSlotReason string

const (
	ReasonOutOfServiceArea     NoSlotReason = "out_of_service_area"
	ReasonOutsidePhoneHours    NoSlotReason = "outside_phone_hours"
	ReasonOutsideBusinessHours NoSlotReason = "outside_business_hours"
	ReasonCapacityExceeded     NoSlotReason = "capacity_exceeded"
	ReasonAfterHoursQuotaUsed  NoSlotReason = "after_hours_quota_reached"
	ReasonTravelLimitsExceeded NoSlotReason = "travel_limits_exceeded"
	ReasonTradeUnsupported     NoSlotReason = "trade_unsupported"
	ReasonJobUnsupported       NoSlotReason = "job_unsupported"
	ReasonOutOfOffice          NoSlotReason = "out_of_office"
	ReasonGeocodeFailed        NoSlotReason = "geocode_failed"
)

// Validation summarizes the gate checks this turn passed or failed.
type Validation struct {
	ServiceAreaValid    bool           `json:"service_area_valid"`
	TradeSupported      bool           `json:"trade_supported"`
	WithinBusinessHours bool           `json:"within_business_hours"`
	CapacityAvailable   bool           `json:"capacity_available"`
	Errors              []NoSlotReason `json:"validation_errors,omitempty"`
}

// Decision is the dispatcher's answer for one turn: what to say and what
// scheduling action to take. A Decision is always produced, even when every
// provider is down; only malformed input yields an HTTP error instead.
type Decision struct {
	Action               Action      `json:"next_action"`
	Message              string      `json:"message_to_customer"`
	Stage                Stage       `json:"conversation_stage"`
	ExtractedInfo        *Extraction `json:"extracted_info,omitempty"`
	ProposedSlot         *Slot       `json:"proposed_slot,omitempty"`
	PriceMin             int         `json:"price_min,omitempty"`
	PriceMax             int         `json:"price_max,omitempty"`
	Currency             string      `json:"currency,omitempty"`
	BookingReference     string      `json:"booking_reference,omitempty"`
	FollowUpNeeded       bool        `json:"follow_up_needed"`
	FollowUpDelayMinutes int         `json:"follow_up_delay_minutes,omitempty"`
	Validation           Validation  `json:"validation"`
}
