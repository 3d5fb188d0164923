package schedule

import (
	"sort"
	"time"
)

// WeeklyWindow is a recurring weekly time window: a therapist's working
// hours block or a client's declared free time.
type WeeklyWindow struct {
	DayOfWeek int // Monday-first
	StartTime string
	EndTime   string
}

// Candidate is a one-hour slot where client availability and therapist
// working hours overlap. It is not yet conflict-checked or scored.
type Candidate struct {
	Date      time.Time
	DayOfWeek int // Monday-first
	StartHour int
	DayOffset int // days from the start of the search window
}

func (c Candidate) StartTime() string { return HourClock(c.StartHour) }
func (c Candidate) EndTime() string   { return HourClock(c.StartHour + 1) }

type slotKey struct {
	date string
	hour int
}

func (c Candidate) key() slotKey {
	return slotKey{date: c.Date.Format(DateLayout), hour: c.StartHour}
}

// Intersect walks the days in [from, from+horizonDays) and emits one
// candidate per whole hour in which a client window and a therapist window
// on the same weekday overlap. Overlap bounds are computed on whole hours.
// Either list being empty yields no candidates.
func Intersect(from time.Time, horizonDays int, client, therapist []WeeklyWindow) []Candidate {
	if len(client) == 0 || len(therapist) == 0 || horizonDays <= 0 {
		return nil
	}

	clientByDay := groupByDay(client)
	therapistByDay := groupByDay(therapist)

	start := DateOf(from)
	var out []Candidate
	for offset := 0; offset < horizonDays; offset++ {
		date := start.AddDate(0, 0, offset)
		day := DayIndex(date)

		for _, cw := range clientByDay[day] {
			for _, tw := range therapistByDay[day] {
				lo := max(HourOf(cw.StartTime), HourOf(tw.StartTime))
				hi := min(HourOf(cw.EndTime), HourOf(tw.EndTime))
				for h := lo; h < hi; h++ {
					out = append(out, Candidate{
						Date:      date,
						DayOfWeek: day,
						StartHour: h,
						DayOffset: offset,
					})
				}
			}
		}
	}
	return out
}

// Dedupe drops repeated (date, hour) candidates, which appear when several
// client/therapist window pairs overlap on the same day. Output is ordered
// by date, then hour.
func Dedupe(cands []Candidate) []Candidate {
	seen := make(map[slotKey]struct{}, len(cands))
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		k := c.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartHour < out[j].StartHour
	})
	return out
}

func groupByDay(ws []WeeklyWindow) map[int][]WeeklyWindow {
	m := make(map[int][]WeeklyWindow, 7)
	for _, w := range ws {
		m[w.DayOfWeek] = append(m[w.DayOfWeek], w)
	}
	return m
}
