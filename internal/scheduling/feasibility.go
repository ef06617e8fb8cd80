package scheduling

import (
	"time"

	"github.com/fieldline/dispatch/internal/travel"
	"github.com/fieldline/dispatch/pkg/models"
)

// legCoster prices one travel leg departing at a given time.
type legCoster func(from, to models.Coordinates, departAt time.Time) travel.Estimate

// placement is a feasible position for the job inside one gap.
type placement struct {
	start     time.Time
	travelIn  travel.Estimate
	travelOut travel.Estimate
}

// scanArgs frames one pass over a day's free gaps.
type scanArgs struct {
	profile     *models.BusinessProfile
	customer    models.Coordinates
	from        models.Coordinates // crew location when the window opens
	blocks      []busyBlock        // blocks ahead of windowStart, ascending
	windowStart time.Time
	startLimit  time.Time // job must start before this
	endLimit    time.Time // and end at or before this
	duration    time.Duration
	buffer      time.Duration
	cost        legCoster
}

// scan walks the gaps left by the blocks and returns the earliest
// feasible placement. Gaps are visited in time order and any later gap
// can only start later, so the first fit already wins the earliest-start
// tie-break. The bool reports whether some gap was rejected only by the
// profile's travel limits.
func scan(a scanArgs) (*placement, bool) {
	gapStart := a.windowStart
	gapFrom := a.from
	hitTravelLimit := false

	for i := 0; i <= len(a.blocks); i++ {
		if !gapStart.Before(a.startLimit) {
			break
		}
		var next *busyBlock
		gapEnd := a.endLimit
		if i < len(a.blocks) {
			next = &a.blocks[i]
			if next.start.Before(gapEnd) {
				gapEnd = next.start
			}
		}

		p, limited := tryGap(a, gapStart, gapEnd, gapFrom, next)
		if p != nil {
			return p, hitTravelLimit
		}
		if limited {
			hitTravelLimit = true
		}

		if next == nil {
			break
		}
		gapStart = next.end
		gapFrom = next.departFrom
	}
	return nil, hitTravelLimit
}

// tryGap places the job as early as the gap allows: travel in from the
// previous stop, the buffer, then the start rounded up to a quarter
// hour. The crew must still reach the next block before it begins.
func tryGap(a scanArgs, gapStart, gapEnd time.Time, from models.Coordinates, next *busyBlock) (*placement, bool) {
	if !gapEnd.After(gapStart) {
		return nil, false
	}

	travelIn := a.cost(from, a.customer, gapStart)
	if exceedsTravelLimits(a.profile, travelIn) {
		return nil, true
	}

	start := roundUp15(gapStart.Add(minutesOf(travelIn.Minutes) + a.buffer))
	if !start.Before(a.startLimit) {
		return nil, false
	}
	end := start.Add(a.duration)
	if end.After(a.endLimit) {
		return nil, false
	}

	var travelOut travel.Estimate
	if next != nil {
		travelOut = a.cost(a.customer, next.arriveAt, end)
		if exceedsTravelLimits(a.profile, travelOut) {
			return nil, true
		}
		if end.Add(minutesOf(travelOut.Minutes)).After(next.start) {
			return nil, false
		}
	}

	return &placement{start: start, travelIn: travelIn, travelOut: travelOut}, false
}

// advanceCursor walks past blocks that ended before, or are underway at,
// the cursor. It returns the effective scan start, where the crew is at
// that instant, and the blocks still ahead.
func advanceCursor(blocks []busyBlock, cursor time.Time, at models.Coordinates) (time.Time, models.Coordinates, []busyBlock) {
	i := 0
	for ; i < len(blocks); i++ {
		b := blocks[i]
		if !b.end.After(cursor) {
			at = b.departFrom
			continue
		}
		if !b.start.After(cursor) {
			cursor = b.end
			at = b.departFrom
			continue
		}
		break
	}
	return cursor, at, blocks[i:]
}

func exceedsTravelLimits(p *models.BusinessProfile, leg travel.Estimate) bool {
	if p.MaxTravelTimeMinutes > 0 && leg.Minutes > p.MaxTravelTimeMinutes {
		return true
	}
	if p.MaxTravelDistanceMiles > 0 && leg.Miles > p.MaxTravelDistanceMiles {
		return true
	}
	return false
}

// roundUp15 rounds t up to the next quarter hour; boundary times are
// kept. Zone offsets are all quarter-hour multiples, so truncating in
// absolute time lands on local boundaries too.
func roundUp15(t time.Time) time.Time {
	down := t.Truncate(15 * time.Minute)
	if down.Equal(t) {
		return t
	}
	return down.Add(15 * time.Minute)
}

func minutesOf(n int) time.Duration { return time.Duration(n) * time.Minute }
