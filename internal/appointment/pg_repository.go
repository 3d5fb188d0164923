package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db   dbtx
	inTx bool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

const appointmentColumns = `
	id, therapist_id, client_id, date,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	duration_minutes, status, frequency, series_id,
	notes, pending_reason, optimization_score, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var seriesID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.TherapistID,
		&a.ClientID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.DurationMinutes,
		&a.Status,
		&a.Frequency,
		&seriesID,
		&a.Notes,
		&a.PendingReason,
		&a.OptimizationScore,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = schedule.DateOf(a.Date)
	a.SeriesID = seriesID
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// scanBlock reads (id, owner_id, day_of_week, start, end) and converts the
// stored Sunday-first day into the engine's Monday-first day.
func scanBlock(row pgx.Row) (id, owner uuid.UUID, b TimeBlock, err error) {
	var day int
	err = row.Scan(&id, &owner, &day, &b.StartTime, &b.EndTime)
	if err != nil {
		return id, owner, b, err
	}
	b.DayOfWeek = schedule.ToUIDay(day)
	return id, owner, b, nil
}

func rangeBounds(rng *DateRange) (from, to *time.Time) {
	if rng == nil {
		return nil, nil
	}
	if !rng.From.IsZero() {
		f := schedule.DateOf(rng.From)
		from = &f
	}
	if !rng.To.IsZero() {
		t := schedule.DateOf(rng.To)
		to = &t
	}
	return from, to
}

// setClause renders the patch as "col = $n" assignments starting at
// placeholder n.
func setClause(p AppointmentPatch, n int) (string, []any) {
	var sets []string
	var args []any
	add := func(expr string, v any) {
		sets = append(sets, fmt.Sprintf(expr, n))
		args = append(args, v)
		n++
	}

	if p.Date != nil {
		add("date = $%d", schedule.DateOf(*p.Date))
	}
	if p.StartTime != nil {
		add("start_time = $%d::text::time", *p.StartTime)
	}
	if p.EndTime != nil {
		add("end_time = $%d::text::time", *p.EndTime)
	}
	if p.DurationMinutes != nil {
		add("duration_minutes = $%d", *p.DurationMinutes)
	}
	if p.Status != nil {
		// cancelled rows keep their status
		add("status = CASE WHEN status = 'cancelled' THEN status ELSE $%d END", string(*p.Status))
	}
	if p.Notes != nil {
		add("notes = $%d", *p.Notes)
	}
	if p.PendingReason != nil {
		add("pending_reason = $%d", *p.PendingReason)
	}
	if p.OptimizationScore != nil {
		add("optimization_score = $%d", *p.OptimizationScore)
	}
	if p.frequency != nil {
		add("frequency = $%d", string(*p.frequency))
	}
	if p.clearSeries {
		sets = append(sets, "series_id = NULL")
	} else if p.seriesID != nil {
		add("series_id = $%d", *p.seriesID)
	}

	sets = append(sets, "updated_at = now()")
	return strings.Join(sets, ", "), args
}

// Interface methods

func (r *PgRepository) FindAppointmentsByTherapist(ctx context.Context, therapistID uuid.UUID, rng *DateRange) ([]Appointment, error) {
	from, to := rangeBounds(rng)
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE therapist_id = $1
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		ORDER BY date, start_time
	`, therapistID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query therapist appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindAppointmentsByClient(ctx context.Context, clientID uuid.UUID, rng *DateRange) ([]Appointment, error) {
	from, to := rangeBounds(rng)
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		  AND ($2::date IS NULL OR date >= $2)
		  AND ($3::date IS NULL OR date <= $3)
		ORDER BY date, start_time
	`, clientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query client appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindAppointmentsBySeries(ctx context.Context, seriesID uuid.UUID, dateFrom time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE series_id = $1
		  AND date >= $2
		ORDER BY date, start_time
	`, seriesID, schedule.DateOf(dateFrom))
	if err != nil {
		return nil, fmt.Errorf("query series appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) FindAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, therapist_id, client_id, date, start_time, end_time, duration_minutes,
			status, frequency, series_id, notes, pending_reason, optimization_score,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5::text::time, $6::text::time, $7, $8, $9, $10, $11, $12, $13, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.TherapistID, a.ClientID, schedule.DateOf(a.Date), a.StartTime, a.EndTime, a.DurationMinutes,
		string(a.Status), string(a.Frequency), a.SeriesID, a.Notes, a.PendingReason, a.OptimizationScore,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	set, args := setClause(patch, 2)
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET `+set+`
		WHERE id = $1
		RETURNING `+appointmentColumns,
		append([]any{id}, args...)...,
	)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateManyBySeries(ctx context.Context, seriesID uuid.UUID, dateFrom time.Time, patch AppointmentPatch) ([]Appointment, error) {
	set, args := setClause(patch, 3)
	rows, err := r.db.Query(ctx, `
		UPDATE appointments
		SET `+set+`
		WHERE series_id = $1
		  AND date >= $2
		RETURNING `+appointmentColumns,
		append([]any{seriesID, schedule.DateOf(dateFrom)}, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("update series: %w", err)
	}

	updated, err := collectAppointments(rows)
	if err != nil {
		return nil, fmt.Errorf("update series: %w", err)
	}
	sort.SliceStable(updated, func(i, j int) bool { return updated[i].Date.Before(updated[j].Date) })
	return updated, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) DeleteManyBySeries(ctx context.Context, seriesID uuid.UUID, dateFrom time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM appointments
		WHERE series_id = $1
		  AND date >= $2
	`, seriesID, schedule.DateOf(dateFrom))
	if err != nil {
		return 0, fmt.Errorf("delete series: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) LinkUnlinkedSeries(ctx context.Context, m SeriesMatch, seriesID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET series_id = $1,
		    updated_at = now()
		WHERE series_id IS NULL
		  AND client_id = $2
		  AND therapist_id = $3
		  AND frequency = $4
		  AND start_time = $5::text::time
		  AND end_time = $6::text::time
		  AND date >= $7
		  AND id <> $8
	`, seriesID, m.ClientID, m.TherapistID, string(m.Frequency), m.StartTime, m.EndTime,
		schedule.DateOf(m.DateFrom), m.ExcludeID)
	if err != nil {
		return 0, fmt.Errorf("link unlinked series: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) FindAvailability(ctx context.Context, clientID uuid.UUID) ([]ClientAvailability, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, client_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM client_availability
		WHERE client_id = $1
		ORDER BY day_of_week, start_time
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query client availability: %w", err)
	}
	defer rows.Close()

	var result []ClientAvailability
	for rows.Next() {
		id, owner, b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client availability: %w", err)
		}
		result = append(result, ClientAvailability{ID: id, ClientID: owner, TimeBlock: b})
	}
	return result, rows.Err()
}

func (r *PgRepository) FindWorkingHours(ctx context.Context, therapistID uuid.UUID) ([]WorkingHoursBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, therapist_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM working_hours
		WHERE therapist_id = $1
		ORDER BY day_of_week, start_time
	`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("query working hours: %w", err)
	}
	defer rows.Close()

	var result []WorkingHoursBlock
	for rows.Next() {
		id, owner, b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		result = append(result, WorkingHoursBlock{ID: id, TherapistID: owner, TimeBlock: b})
	}
	return result, rows.Err()
}

func (r *PgRepository) ReplaceAvailability(ctx context.Context, clientID uuid.UUID, blocks []TimeBlock) ([]ClientAvailability, error) {
	if _, err := r.db.Exec(ctx, `DELETE FROM client_availability WHERE client_id = $1`, clientID); err != nil {
		return nil, fmt.Errorf("clear client availability: %w", err)
	}

	result := make([]ClientAvailability, 0, len(blocks))
	for _, b := range blocks {
		id := uuid.New()
		_, err := r.db.Exec(ctx, `
			INSERT INTO client_availability (id, client_id, day_of_week, start_time, end_time)
			VALUES ($1, $2, $3, $4::text::time, $5::text::time)
		`, id, clientID, schedule.ToPersistenceDay(b.DayOfWeek), b.StartTime, b.EndTime)
		if err != nil {
			return nil, fmt.Errorf("insert client availability: %w", err)
		}
		result = append(result, ClientAvailability{ID: id, ClientID: clientID, TimeBlock: b})
	}
	return result, nil
}

func (r *PgRepository) ReplaceWorkingHours(ctx context.Context, therapistID uuid.UUID, blocks []TimeBlock) ([]WorkingHoursBlock, error) {
	if _, err := r.db.Exec(ctx, `DELETE FROM working_hours WHERE therapist_id = $1`, therapistID); err != nil {
		return nil, fmt.Errorf("clear working hours: %w", err)
	}

	result := make([]WorkingHoursBlock, 0, len(blocks))
	for _, b := range blocks {
		id := uuid.New()
		_, err := r.db.Exec(ctx, `
			INSERT INTO working_hours (id, therapist_id, day_of_week, start_time, end_time)
			VALUES ($1, $2, $3, $4::text::time, $5::text::time)
		`, id, therapistID, schedule.ToPersistenceDay(b.DayOfWeek), b.StartTime, b.EndTime)
		if err != nil {
			return nil, fmt.Errorf("insert working hours: %w", err)
		}
		result = append(result, WorkingHoursBlock{ID: id, TherapistID: therapistID, TimeBlock: b})
	}
	return result, nil
}

func (r *PgRepository) InsertTherapist(ctx context.Context, t Therapist) (*Therapist, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO therapists (id, name, specialty, color)
		VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), '#6b7280'))
		RETURNING color, created_at, updated_at
	`, t.ID, t.Name, t.Specialty, t.Color).Scan(&t.Color, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert therapist: %w", err)
	}
	return &t, nil
}

func (r *PgRepository) InsertClient(ctx context.Context, c Client) (*Client, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO clients (id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, c.ID, c.Name, c.Email, c.Phone).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}
	return &c, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func (r *PgRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &PgRepository{db: tx, inTx: true}); err != nil {
		return fmt.Errorf("%w: %w", ErrTxRolledBack, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTxRolledBack, err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
