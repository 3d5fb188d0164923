package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the record store behind the scheduler.
type Repository interface {
	// Reads. A nil range means unbounded.
	FindAppointmentsByTherapist(ctx context.Context, therapistID uuid.UUID, rng *DateRange) ([]Appointment, error)
	FindAppointmentsByClient(ctx context.Context, clientID uuid.UUID, rng *DateRange) ([]Appointment, error)
	// FindAppointmentsBySeries returns members dated on or after dateFrom, ascending.
	FindAppointmentsBySeries(ctx context.Context, seriesID uuid.UUID, dateFrom time.Time) ([]Appointment, error)
	FindAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Writes
	InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error)
	UpdateManyBySeries(ctx context.Context, seriesID uuid.UUID, dateFrom time.Time, patch AppointmentPatch) ([]Appointment, error)
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	DeleteManyBySeries(ctx context.Context, seriesID uuid.UUID, dateFrom time.Time) (int64, error)

	// LinkUnlinkedSeries stamps seriesID onto every appointment matching m
	// whose series id is still null and returns how many rows changed.
	LinkUnlinkedSeries(ctx context.Context, m SeriesMatch, seriesID uuid.UUID) (int64, error)

	// Weekly windows
	FindAvailability(ctx context.Context, clientID uuid.UUID) ([]ClientAvailability, error)
	FindWorkingHours(ctx context.Context, therapistID uuid.UUID) ([]WorkingHoursBlock, error)
	ReplaceAvailability(ctx context.Context, clientID uuid.UUID, blocks []TimeBlock) ([]ClientAvailability, error)
	ReplaceWorkingHours(ctx context.Context, therapistID uuid.UUID, blocks []TimeBlock) ([]WorkingHoursBlock, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithTx runs fn against a repository bound to one unit of work. A store
	// that supports transactions commits when fn returns nil and otherwise
	// rolls back, wrapping the cause in ErrTxRolledBack. Nested calls reuse
	// the outer unit.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
