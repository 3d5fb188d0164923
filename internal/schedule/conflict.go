package schedule

import (
	"time"

	"github.com/google/uuid"
)

// Booking is the engine's view of an existing appointment.
type Booking struct {
	ID        uuid.UUID
	ClientID  uuid.UUID
	Date      time.Time
	StartTime string
	EndTime   string
	Cancelled bool
}

// Active reports whether the booking still occupies its time.
func (b Booking) Active() bool { return !b.Cancelled }

// FilterConflicts drops every candidate whose [hour, hour+1) interval
// overlaps an active booking on the same date. Callers pass the therapist's
// bookings and, to avoid double-booking the client, the client's bookings
// with any therapist.
func FilterConflicts(cands []Candidate, bookings []Booking) []Candidate {
	byDate := activeByDate(bookings)

	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if conflicts(c, byDate[c.Date.Format(DateLayout)]) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func conflicts(c Candidate, sameDay []Booking) bool {
	start, end := c.StartTime(), c.EndTime()
	for _, b := range sameDay {
		if Overlaps(start, end, b.StartTime, b.EndTime) {
			return true
		}
	}
	return false
}

func activeByDate(bookings []Booking) map[string][]Booking {
	m := make(map[string][]Booking)
	for _, b := range bookings {
		if !b.Active() {
			continue
		}
		k := b.Date.Format(DateLayout)
		m[k] = append(m[k], b)
	}
	return m
}
