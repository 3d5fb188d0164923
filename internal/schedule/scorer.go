package schedule

import (
	"fmt"
	"sort"
)

// Heuristic weights. They are empirical; only their relative ordering is
// relied upon.
const (
	AdjacentBonus   = 30 // candidate touches an existing session that day
	NearbyBonus     = 20 // candidate is at most one hour from an existing session
	PatternBonus    = 25 // continues a biweekly rhythm with this client
	ProximityWindow = 15 // sooner dates earn ProximityWindow - dayOffset
	CoreHoursBonus  = 10

	CoreHoursStart = 10
	CoreHoursEnd   = 18

	// OptimalThreshold marks a slot for UI emphasis. Display only.
	OptimalThreshold = 60

	// DefaultLimit caps ranked output when the caller passes no limit.
	DefaultLimit = 10

	patternIntervalDays = 14
)

// RankedSlot is a conflict-free candidate with its score and the reasons
// that contributed to it.
type RankedSlot struct {
	Candidate
	Score   int
	Reasons []string
	Optimal bool
}

// Score computes the additive desirability of a candidate.
//
// sameDay holds the therapist's bookings on the candidate's date; history
// holds the client's past bookings with this therapist. Cancelled bookings
// in either list are ignored.
func Score(c Candidate, sameDay, history []Booking) (int, []string) {
	score := 0
	var reasons []string

	if gap, ok := nearestGap(c, sameDay); ok {
		switch {
		case gap == 0:
			score += AdjacentBonus
			reasons = append(reasons, "Adjacent to an existing session")
		case gap <= 60:
			score += NearbyBonus
			reasons = append(reasons, "Within one hour of an existing session")
		}
	}

	if continuesPattern(c, history) {
		score += PatternBonus
		reasons = append(reasons, "Continues a biweekly pattern")
	}

	if p := ProximityWindow - c.DayOffset; p > 0 {
		score += p
		reasons = append(reasons, fmt.Sprintf("Soon (in %d days)", c.DayOffset))
	}

	if c.StartHour >= CoreHoursStart && c.StartHour < CoreHoursEnd {
		score += CoreHoursBonus
		reasons = append(reasons, fmt.Sprintf("Core hours (%d-%d)", CoreHoursStart, CoreHoursEnd))
	}

	return score, reasons
}

// Rank scores every candidate, sorts by score descending (earlier date and
// hour first on ties) and truncates to limit. therapistBookings may span
// several days; history is the client's bookings with the same therapist.
func Rank(cands []Candidate, therapistBookings, history []Booking, limit int) []RankedSlot {
	if limit <= 0 {
		limit = DefaultLimit
	}

	byDate := activeByDate(therapistBookings)

	ranked := make([]RankedSlot, 0, len(cands))
	for _, c := range Dedupe(cands) {
		score, reasons := Score(c, byDate[c.Date.Format(DateLayout)], history)
		ranked = append(ranked, RankedSlot{
			Candidate: c,
			Score:     score,
			Reasons:   reasons,
			Optimal:   score > OptimalThreshold,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].Date.Equal(ranked[j].Date) {
			return ranked[i].Date.Before(ranked[j].Date)
		}
		return ranked[i].StartHour < ranked[j].StartHour
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// nearestGap returns the smallest gap in minutes between the candidate hour
// and any active booking on the same day. Overlapping bookings are skipped.
func nearestGap(c Candidate, sameDay []Booking) (int, bool) {
	cStart := c.StartHour * 60
	cEnd := cStart + 60

	best, found := 0, false
	for _, b := range sameDay {
		if !b.Active() {
			continue
		}
		bStart, err := ParseClock(b.StartTime)
		if err != nil {
			continue
		}
		bEnd, err := ParseClock(b.EndTime)
		if err != nil {
			continue
		}

		var gap int
		switch {
		case bEnd <= cStart:
			gap = cStart - bEnd
		case bStart >= cEnd:
			gap = bStart - cEnd
		default:
			continue
		}
		if !found || gap < best {
			best, found = gap, true
		}
	}
	return best, found
}

// continuesPattern reports whether the client had an active session at the
// same hour exactly 14*k days (k >= 1) before the candidate date.
func continuesPattern(c Candidate, history []Booking) bool {
	for _, b := range history {
		if !b.Active() || HourOf(b.StartTime) != c.StartHour {
			continue
		}
		days := DaysBetween(b.Date, c.Date)
		if days > 0 && days%patternIntervalDays == 0 {
			return true
		}
	}
	return false
}
