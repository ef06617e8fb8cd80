package scheduling

import (
	"sort"
	"time"

	"github.com/fieldline/dispatch/pkg/models"
)

// busyBlock is a maximal run of overlapping calendar events. The crew
// must be at arriveAt when the block opens and leaves from departFrom
// when it ends.
type busyBlock struct {
	start      time.Time
	end        time.Time
	arriveAt   models.Coordinates
	departFrom models.Coordinates
}

// mergeBusy sorts events by start and unions overlapping or touching
// ones into busy blocks. Events without coordinates sit at the anchor;
// zero-length and inverted events are dropped.
func mergeBusy(events []models.CalendarEvent, anchor models.Coordinates) []busyBlock {
	kept := make([]models.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.End.After(ev.Start) {
			kept = append(kept, ev)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Start.Before(kept[j].Start) })

	var blocks []busyBlock
	for _, ev := range kept {
		at := ev.Coordinates(anchor)
		if n := len(blocks) - 1; n >= 0 && !ev.Start.After(blocks[n].end) {
			if ev.End.After(blocks[n].end) {
				blocks[n].end = ev.End
				blocks[n].departFrom = at
			}
			continue
		}
		blocks = append(blocks, busyBlock{start: ev.Start, end: ev.End, arriveAt: at, departFrom: at})
	}
	return blocks
}

// eventsOnDay returns the events starting on the same local date as day.
func eventsOnDay(events []models.CalendarEvent, day time.Time, loc *time.Location) []models.CalendarEvent {
	y, m, d := day.In(loc).Date()
	var out []models.CalendarEvent
	for _, ev := range events {
		ey, em, ed := ev.Start.In(loc).Date()
		if ey == y && em == m && ed == d {
			out = append(out, ev)
		}
	}
	return out
}

// countAfterHours counts the day's events that start outside business
// hours. On a day with no business hours every event counts.
func countAfterHours(dayEvents []models.CalendarEvent, day time.Time, profile *models.BusinessProfile) int {
	loc := profile.Location()
	var openAt, closeAt time.Time
	open := false
	if hours, ok := models.HoursOn(profile.BusinessHours, day, loc); ok {
		openAt, closeAt, open = hours.Window(day, loc)
	}

	n := 0
	for _, ev := range dayEvents {
		start := ev.Start.In(loc)
		if !open || start.Before(openAt) || !start.Before(closeAt) {
			n++
		}
	}
	return n
}

// hasLongJob reports whether any event runs longJobThreshold or more.
func hasLongJob(events []models.CalendarEvent) bool {
	for _, ev := range events {
		if ev.End.Sub(ev.Start) >= longJobThreshold {
			return true
		}
	}
	return false
}

// clockOn places a wall-clock hour on t's local date.
func clockOn(t time.Time, hour int, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
}
