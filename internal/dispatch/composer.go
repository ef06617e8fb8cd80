package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldline/dispatch/internal/pricing"
	"github.com/fieldline/dispatch/pkg/models"
)

// Every outbound sentence is assembled here. The wording doubles as the
// conversation's state carrier: offers contain "Reply YES" and never a
// question mark, questions always end with one, terminal messages carry
// neither. readConversation rebuilds the stage from those markers on the
// next turn, so copy changes must keep them intact.

type composer struct {
	profile *models.BusinessProfile
	now     time.Time
	loc     *time.Location
	first   bool
}

func newComposer(req *models.DispatchRequest, conv conversation) composer {
	return composer{
		profile: &req.Profile,
		now:     req.CurrentTime,
		loc:     req.Profile.Location(),
		first:   conv.FirstContact,
	}
}

// greeting opens the very first bot message with the business name so the
// customer knows who is texting back. Later turns skip it.
func (c composer) greeting() string {
	if !c.first {
		return ""
	}
	return "Hi, this is " + c.profile.BusinessName + ". "
}

func (c composer) askJobAndAddress() string {
	return c.greeting() + "What's the problem, and what's the service address?"
}

// askAddress keeps one canonical wording so a repeat ask matches the text
// already counted against the question budget.
func (c composer) askAddress() string {
	return c.greeting() + "What's the service address?"
}

func (c composer) askJob() string {
	return c.greeting() + "What seems to be the problem?"
}

func (c composer) askSpecificAddress() string {
	return c.greeting() + "Could you send the full street address, with the house number or ZIP code?"
}

func (c composer) askAddressAgain() string {
	return c.greeting() + "We couldn't find that address on the map. Could you double-check the street address and ZIP code?"
}

func (c composer) offer(slot *models.Slot, quote pricing.Quote, todayFull bool) string {
	lead := "We can have a technician out"
	if todayFull {
		lead = "Today's schedule is full, but we can have a technician out"
	}
	return fmt.Sprintf("%s%s %s between %s for %s. Reply YES to confirm or NO for another time.",
		c.greeting(), lead,
		dayPhrase(slot.Start, c.now, c.loc),
		formatWindow(slot.Start, slot.End, c.loc),
		money(quote.PriceMin, quote.PriceMax, quote.Currency))
}

// afterHoursChoice presents tonight's emergency visit against the next
// regular-hours day, both priced, so the customer picks with one word.
func (c composer) afterHoursChoice(slot *models.Slot, quote, nextQuote pricing.Quote, nextStart time.Time) string {
	day := dayPhrase(nextStart, c.now, c.loc)
	return fmt.Sprintf("%sWe can send a technician tonight between %s at the after-hours rate of %s, or %s during regular hours for %s. Reply YES for tonight or NO to schedule %s instead.",
		c.greeting(),
		formatWindow(slot.Start, slot.End, c.loc),
		money(quote.PriceMin, quote.PriceMax, quote.Currency),
		day,
		money(nextQuote.PriceMin, nextQuote.PriceMax, nextQuote.Currency),
		day)
}

func (c composer) alternativeOffer(slot *models.Slot, quote pricing.Quote) string {
	return fmt.Sprintf("No problem. We also have %s between %s for %s. Reply YES to confirm or NO if that won't work.",
		dayPhrase(slot.Start, c.now, c.loc),
		formatWindow(slot.Start, slot.End, c.loc),
		money(quote.PriceMin, quote.PriceMax, quote.Currency))
}

func (c composer) booked(slot *models.Slot, ref string) string {
	if slot == nil {
		return fmt.Sprintf("You're booked. We'll call shortly to confirm the exact arrival window. Your reference is %s.", ref)
	}
	return fmt.Sprintf("You're booked for %s between %s. Your reference is %s. See you then.",
		dayPhrase(slot.Start, c.now, c.loc),
		formatWindow(slot.Start, slot.End, c.loc),
		ref)
}

func (c composer) alreadyBooked() string {
	return "You're on the schedule and we'll see you at the booked time. Text us if anything changes."
}

func (c composer) outOfArea(distanceMiles float64) string {
	return fmt.Sprintf("%sUnfortunately that address is about %.0f miles from us, outside our %.0f-mile service area. A local %s company will be able to help sooner. Sorry we couldn't take this one.",
		c.greeting(), distanceMiles, c.profile.ServiceRadiusMiles, humanTrade(c.profile.Trade))
}

func (c composer) closed() string {
	var b strings.Builder
	b.WriteString(c.greeting())
	b.WriteString("We're closed right now.")
	if line, ok := c.phoneHoursLine(); ok {
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteString(" Text us then and we'll get you scheduled.")
	} else {
		b.WriteString(" Text us during phone hours and we'll get you scheduled.")
	}
	if c.profile.EmergencyPhone != "" {
		fmt.Fprintf(&b, " If this is an emergency, call %s right away.", c.profile.EmergencyPhone)
	}
	return b.String()
}

func (c composer) outOfOffice() string {
	msg := c.greeting() + "We're away from the office and not booking work right now. Text us again soon and we'll get you taken care of."
	if c.profile.EmergencyPhone != "" {
		msg += fmt.Sprintf(" If this is an emergency, call %s.", c.profile.EmergencyPhone)
	}
	return msg
}

func (c composer) escalatedEmergency() string {
	return c.greeting() + "This sounds urgent, so I'm sending your message straight to the owner. Expect a call back shortly."
}

func (c composer) handoff() string {
	return c.greeting() + "I want to make sure we get this right, so I'm passing your message to the team. Someone will call you shortly."
}

func (c composer) noSlot(reasons []models.NoSlotReason) string {
	switch {
	case hasReason(reasons, models.ReasonJobUnsupported), hasReason(reasons, models.ReasonTradeUnsupported):
		return c.greeting() + "That isn't work we take on, sorry. Another local company should be able to help."
	case hasReason(reasons, models.ReasonTravelLimitsExceeded):
		return c.greeting() + "We couldn't fit the drive to you into the schedule this week, so we'll have to pass. Sorry we couldn't help."
	case hasReason(reasons, models.ReasonCapacityExceeded), hasReason(reasons, models.ReasonAfterHoursQuotaUsed):
		return c.greeting() + "We're fully booked and couldn't find an opening in the next week. Sorry we couldn't help this time."
	case hasReason(reasons, models.ReasonOutOfServiceArea):
		return c.greeting() + fmt.Sprintf("Unfortunately you're outside our %.0f-mile service area. A local %s company will be able to help sooner.",
			c.profile.ServiceRadiusMiles, humanTrade(c.profile.Trade))
	default:
		return c.greeting() + "We couldn't find a time that works on our end. Sorry we couldn't help this time."
	}
}

func (c composer) noAlternative() string {
	return "That's the only window we have right now, sorry we couldn't find a better fit. Text us any time to try again."
}

func (c composer) declined() string {
	return "Understood, we'll leave it there for now. Text us any time if you'd like to look at other days."
}

func (c composer) timedOut() string {
	return "It's been a while since your last message, so we've closed this request. Text us again and we'll start fresh."
}

// phoneHoursLine cites today's phone hours, or the next day that has any.
func (c composer) phoneHoursLine() (string, bool) {
	table := c.profile.EffectivePhoneHours()
	if hours, ok := models.HoursOn(table, c.now, c.loc); ok {
		if open, close, ok := hours.Window(c.now, c.loc); ok {
			return fmt.Sprintf("Our phone hours are %s.", formatWindow(open, close, c.loc)), true
		}
	}
	for i := 1; i <= 7; i++ {
		day := c.now.In(c.loc).AddDate(0, 0, i)
		hours, ok := models.HoursOn(table, day, c.loc)
		if !ok {
			continue
		}
		open, close, ok := hours.Window(day, c.loc)
		if !ok {
			continue
		}
		return fmt.Sprintf("Our phone hours %s are %s.", dayPhrase(day, c.now, c.loc), formatWindow(open, close, c.loc)), true
	}
	return "", false
}

// dayPhrase names a date the way a text message would.
func dayPhrase(t, now time.Time, loc *time.Location) string {
	day := t.In(loc)
	ref := now.In(loc)
	if sameDate(day, ref) {
		return "today"
	}
	if sameDate(day, ref.AddDate(0, 0, 1)) {
		return "tomorrow"
	}
	return day.Format("Monday, Jan 2")
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// formatWindow renders "5:30-8:00 PM", repeating the meridiem only when
// the window crosses noon or midnight.
func formatWindow(start, end time.Time, loc *time.Location) string {
	s, e := start.In(loc), end.In(loc)
	if s.Format("PM") == e.Format("PM") {
		return s.Format("3:04") + "-" + e.Format("3:04 PM")
	}
	return s.Format("3:04 PM") + "-" + e.Format("3:04 PM")
}

func money(min, max int, currency string) string {
	if currency == "" || currency == "USD" {
		return fmt.Sprintf("$%d-$%d", min, max)
	}
	return fmt.Sprintf("%d-%d %s", min, max, currency)
}

func humanTrade(t models.Trade) string {
	return strings.ReplaceAll(string(t), "_", " ")
}

func hasReason(reasons []models.NoSlotReason, want models.NoSlotReason) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
