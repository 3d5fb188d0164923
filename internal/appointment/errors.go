package appointment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrUnlinkedSeries      = errors.New("appointment is not part of a series")
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
	ErrTxRolledBack        = errors.New("transaction rolled back")
)

// ValidationError reports malformed caller input. Nothing has been written
// when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a booking would overlap an active
// appointment that already holds the time.
type ConflictError struct {
	Date          time.Time
	StartTime     string
	EndTime       string
	ConflictingID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s %s-%s overlaps appointment %s",
		e.Date.Format(schedule.DateLayout), e.StartTime, e.EndTime, e.ConflictingID)
}

// PartialBatchError reports a multi-record write that failed after Completed
// of Total steps. When RolledBack is true the store undid the completed steps;
// otherwise they remain applied, earliest dates first.
type PartialBatchError struct {
	Op         string
	Completed  int
	Total      int
	RolledBack bool
	Err        error
}

func (e *PartialBatchError) Error() string {
	state := "left applied"
	if e.RolledBack {
		state = "rolled back"
	}
	return fmt.Sprintf("%s failed after %d/%d steps (%s): %v", e.Op, e.Completed, e.Total, state, e.Err)
}

func (e *PartialBatchError) Unwrap() error { return e.Err }
