package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Scope selects which occurrences of a series an edit or delete touches.
type Scope string

const (
	ScopeThisOnly      Scope = "this_only"
	ScopeThisAndFuture Scope = "this_and_future"
)

func (s Scope) Valid() bool {
	return s == ScopeThisOnly || s == ScopeThisAndFuture
}

// ParseScope accepts exactly "this_only" or "this_and_future".
func ParseScope(raw string) (Scope, error) {
	s := Scope(raw)
	if !s.Valid() {
		return "", invalid("scope", "must be this_only or this_and_future, got %q", raw)
	}
	return s, nil
}

type Therapist struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty"`
	Color     string    `json:"color"` // calendar display color, "#rrggbb"
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeBlock is a weekly window. DayOfWeek is Monday-first (0 = Monday).
type TimeBlock struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

func (b TimeBlock) window() schedule.WeeklyWindow {
	return schedule.WeeklyWindow{DayOfWeek: b.DayOfWeek, StartTime: b.StartTime, EndTime: b.EndTime}
}

type WorkingHoursBlock struct {
	ID          uuid.UUID `json:"id"`
	TherapistID uuid.UUID `json:"therapist_id"`
	TimeBlock
}

type ClientAvailability struct {
	ID       uuid.UUID `json:"id"`
	ClientID uuid.UUID `json:"client_id"`
	TimeBlock
}

type Appointment struct {
	ID                uuid.UUID
	TherapistID       uuid.UUID
	ClientID          uuid.UUID
	Date              time.Time
	StartTime         string
	EndTime           string
	DurationMinutes   int
	Status            Status
	Frequency         schedule.Frequency
	SeriesID          *uuid.UUID
	Notes             *string
	PendingReason     *string
	OptimizationScore int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (a Appointment) Active() bool { return a.Status != StatusCancelled }

func (a Appointment) booking() schedule.Booking {
	return schedule.Booking{
		ID:        a.ID,
		ClientID:  a.ClientID,
		Date:      a.Date,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Cancelled: !a.Active(),
	}
}

// AnchorBookingRequest is the first occurrence of a booking plus how it repeats.
type AnchorBookingRequest struct {
	ClientID          uuid.UUID          `json:"client_id" validate:"required"`
	TherapistID       uuid.UUID          `json:"therapist_id" validate:"required"`
	Date              time.Time          `json:"date" validate:"required"`
	StartTime         string             `json:"start_time" validate:"required,hhmm"`
	DurationMinutes   int                `json:"duration_minutes" validate:"required,min=1,max=720"`
	Frequency         schedule.Frequency `json:"frequency" validate:"required,frequency"`
	Horizon           schedule.Horizon   `json:"horizon" validate:"omitempty,horizon"`
	Status            Status             `json:"status" validate:"omitempty,oneof=pending confirmed"`
	Notes             *string            `json:"notes"`
	PendingReason     *string            `json:"pending_reason"`
	OptimizationScore int                `json:"optimization_score" validate:"min=0"`
}

// AppointmentPatch carries the fields an edit changes. Nil means unchanged.
// Series membership is managed by the service and cannot be set by callers.
type AppointmentPatch struct {
	Date              *time.Time `json:"date"`
	StartTime         *string    `json:"start_time" validate:"omitempty,hhmm"`
	EndTime           *string    `json:"end_time" validate:"omitempty,hhmm"`
	DurationMinutes   *int       `json:"duration_minutes" validate:"omitempty,min=1,max=720"`
	Status            *Status    `json:"status" validate:"omitempty,oneof=pending confirmed cancelled"`
	Notes             *string    `json:"notes"`
	PendingReason     *string    `json:"pending_reason"`
	OptimizationScore *int       `json:"optimization_score" validate:"omitempty,min=0"`

	frequency   *schedule.Frequency
	seriesID    *uuid.UUID
	clearSeries bool
}

func (p AppointmentPatch) empty() bool {
	return p.Date == nil && p.StartTime == nil && p.EndTime == nil && p.DurationMinutes == nil &&
		p.Status == nil && p.Notes == nil && p.PendingReason == nil && p.OptimizationScore == nil &&
		p.frequency == nil && p.seriesID == nil && !p.clearSeries
}

// detach turns the patch into one that also drops the record from its series.
func (p AppointmentPatch) detach() AppointmentPatch {
	once := schedule.FrequencyOnce
	p.frequency = &once
	p.seriesID = nil
	p.clearSeries = true
	return p
}

// forRecord drops a status change aimed at a cancelled record. Cancelled is
// terminal, so series-wide edits leave cancelled members cancelled.
func (p AppointmentPatch) forRecord(a Appointment) AppointmentPatch {
	if !a.Active() {
		p.Status = nil
	}
	return p
}

func (p AppointmentPatch) apply(a *Appointment) {
	if p.Date != nil {
		a.Date = schedule.DateOf(*p.Date)
	}
	if p.StartTime != nil {
		a.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		a.EndTime = *p.EndTime
	}
	if p.DurationMinutes != nil {
		a.DurationMinutes = *p.DurationMinutes
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.Notes != nil {
		a.Notes = p.Notes
	}
	if p.PendingReason != nil {
		a.PendingReason = p.PendingReason
	}
	if p.OptimizationScore != nil {
		a.OptimizationScore = *p.OptimizationScore
	}
	if p.frequency != nil {
		a.Frequency = *p.frequency
	}
	if p.clearSeries {
		a.SeriesID = nil
	} else if p.seriesID != nil {
		id := *p.seriesID
		a.SeriesID = &id
	}
}

// DateRange is inclusive on both ends. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// SeriesMatch identifies unlinked recurring appointments that belong together.
type SeriesMatch struct {
	ClientID    uuid.UUID
	TherapistID uuid.UUID
	Frequency   schedule.Frequency
	StartTime   string
	EndTime     string
	DateFrom    time.Time
	ExcludeID   uuid.UUID
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
