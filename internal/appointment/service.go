package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/config"
	"github.com/hackgods/therapy-scheduling/internal/metrics"
	redisclient "github.com/hackgods/therapy-scheduling/internal/redis"
	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

const (
	EventSeriesCreated        = "SERIES_CREATED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventFrequencyChanged     = "SERIES_FREQUENCY_CHANGED"
	EventSeriesLinked         = "SERIES_LINKED"
)

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	cfg      config.Config
	hours    *WorkingHoursCache
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		cfg:      cfg,
		hours:    NewWorkingHoursCache(cfg.WorkingHoursCacheTTL),
		validate: newValidator(),
		metrics:  m,
		log:      log.With().Str("component", "appointment").Logger(),
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	custom := map[string]validator.Func{
		"hhmm": func(fl validator.FieldLevel) bool {
			return schedule.ValidClock(fl.Field().String())
		},
		"frequency": func(fl validator.FieldLevel) bool {
			return schedule.Frequency(fl.Field().String()).Valid()
		},
		"horizon": func(fl validator.FieldLevel) bool {
			return schedule.Horizon(fl.Field().String()).Valid()
		},
	}
	for tag, fn := range custom {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return v
}

// check runs struct-tag validation and reports the first failure as a
// *ValidationError.
func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed %q check", fe.Tag())
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "hhmm":
			msg = "must be HH:MM"
		case "frequency":
			msg = "must be one of puntual, semanal, quincenal"
		case "horizon":
			msg = `must be one of "1 mes", "6 meses", "1 año"`
		}
		return invalid(fe.Field(), "%s", msg)
	}
	return invalid("request", "%v", err)
}

// SuggestSlots returns ranked, conflict-free one-hour slots for the pair over
// the configured horizon starting today. exclude, when set, is ignored for
// conflicts and grouping so an appointment can be rescheduled onto a slot
// next to (or replacing) its current one.
func (s *Service) SuggestSlots(ctx context.Context, clientID, therapistID uuid.UUID, exclude *uuid.UUID) ([]schedule.RankedSlot, error) {
	ranked, err := s.suggestSlots(ctx, clientID, therapistID, exclude)
	switch {
	case err != nil:
		s.metrics.SuggestionRequests.WithLabelValues("error").Inc()
	case len(ranked) == 0:
		s.metrics.SuggestionRequests.WithLabelValues("empty").Inc()
	default:
		s.metrics.SuggestionRequests.WithLabelValues("ok").Inc()
	}
	if err == nil {
		s.metrics.SuggestionsReturned.Observe(float64(len(ranked)))
	}
	return ranked, err
}

func (s *Service) suggestSlots(ctx context.Context, clientID, therapistID uuid.UUID, exclude *uuid.UUID) ([]schedule.RankedSlot, error) {
	now := s.now()
	today := schedule.DateOf(now)
	horizon := s.cfg.SuggestionHorizonDays
	windowEnd := today.AddDate(0, 0, horizon-1)

	avail, err := s.repo.FindAvailability(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client availability: %w", err)
	}
	hours, err := s.workingHours(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	if len(avail) == 0 || len(hours) == 0 {
		return []schedule.RankedSlot{}, nil
	}

	// A year of history feeds the biweekly pattern bonus.
	therapistAppts, err := s.repo.FindAppointmentsByTherapist(ctx, therapistID, &DateRange{From: today.AddDate(-1, 0, 0), To: windowEnd})
	if err != nil {
		return nil, fmt.Errorf("load therapist appointments: %w", err)
	}
	clientAppts, err := s.repo.FindAppointmentsByClient(ctx, clientID, &DateRange{From: today, To: windowEnd})
	if err != nil {
		return nil, fmt.Errorf("load client appointments: %w", err)
	}

	skip := func(a Appointment) bool { return exclude != nil && a.ID == *exclude }

	var therapistBookings, history, clientBookings []schedule.Booking
	for _, a := range therapistAppts {
		if skip(a) {
			continue
		}
		therapistBookings = append(therapistBookings, a.booking())
		if a.ClientID == clientID {
			history = append(history, a.booking())
		}
	}
	for _, a := range clientAppts {
		if skip(a) || a.TherapistID == therapistID {
			continue
		}
		clientBookings = append(clientBookings, a.booking())
	}

	clientWindows := make([]schedule.WeeklyWindow, 0, len(avail))
	for _, a := range avail {
		clientWindows = append(clientWindows, a.window())
	}
	therapistWindows := make([]schedule.WeeklyWindow, 0, len(hours))
	for _, h := range hours {
		therapistWindows = append(therapistWindows, h.window())
	}

	cands := schedule.Intersect(today, horizon, clientWindows, therapistWindows)
	cands = dropElapsed(cands, now)
	cands = schedule.Dedupe(cands)
	cands = schedule.FilterConflicts(cands, therapistBookings)
	cands = schedule.FilterConflicts(cands, clientBookings)

	ranked := schedule.Rank(cands, therapistBookings, history, s.cfg.MaxSuggestions)

	s.log.Debug().
		Str("client_id", clientID.String()).
		Str("therapist_id", therapistID.String()).
		Int("candidates", len(cands)).
		Int("returned", len(ranked)).
		Msg("suggested slots")

	return ranked, nil
}

// dropElapsed removes today's hours that have already started.
func dropElapsed(cands []schedule.Candidate, now time.Time) []schedule.Candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.DayOffset == 0 && c.StartHour <= now.Hour() {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (s *Service) workingHours(ctx context.Context, therapistID uuid.UUID) ([]WorkingHoursBlock, error) {
	if blocks, ok := s.hours.Get(therapistID); ok {
		return blocks, nil
	}
	blocks, err := s.repo.FindWorkingHours(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("load working hours: %w", err)
	}
	s.hours.Set(therapistID, blocks)
	return blocks, nil
}

// CreateRecurringAppointment materialises every occurrence of the anchor
// booking. The therapist hour is locked while occurrences are checked
// against active appointments and written as one unit of work.
func (s *Service) CreateRecurringAppointment(ctx context.Context, req AnchorBookingRequest) ([]Appointment, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.Frequency.Recurring() && req.Horizon == "" {
		return nil, invalid("horizon", "is required for recurring appointments")
	}

	endTime, err := schedule.AddMinutes(req.StartTime, req.DurationMinutes)
	if err != nil {
		return nil, invalid("duration_minutes", "%v", err)
	}

	occurrences, err := schedule.ExpandSeries(req.Date, req.Frequency, req.Horizon, req.OptimizationScore)
	if err != nil {
		return nil, invalid("frequency", "%v", err)
	}

	var seriesID *uuid.UUID
	if req.Frequency.Recurring() {
		id := uuid.New()
		seriesID = &id
	}

	status := req.Status
	if status == "" {
		status = StatusPending
	}

	anchor := occurrences[0].Date
	keys := redisclient.BookingLockKeys(req.TherapistID, anchor, req.StartTime, endTime)

	var created []Appointment
	err = s.withLocks(ctx, keys, func(lockCtx context.Context) error {
		var err error
		created, err = s.runBatch(lockCtx, "create_series", func(ctx context.Context, tx Repository) ([]step, error) {
			rng := &DateRange{From: anchor, To: occurrences[len(occurrences)-1].Date}

			// Re-check inside the critical section: another booking may
			// have landed since the caller's suggestion was computed.
			existing, err := tx.FindAppointmentsByTherapist(ctx, req.TherapistID, rng)
			if err != nil {
				return nil, fmt.Errorf("load therapist appointments: %w", err)
			}
			clientExisting, err := tx.FindAppointmentsByClient(ctx, req.ClientID, rng)
			if err != nil {
				return nil, fmt.Errorf("load client appointments: %w", err)
			}
			if err := checkConflicts(occurrences, req.StartTime, endTime, append(existing, clientExisting...)); err != nil {
				return nil, err
			}

			steps := make([]step, 0, len(occurrences))
			for _, o := range occurrences {
				rec := Appointment{
					ID:                uuid.New(),
					TherapistID:       req.TherapistID,
					ClientID:          req.ClientID,
					Date:              o.Date,
					StartTime:         req.StartTime,
					EndTime:           endTime,
					DurationMinutes:   req.DurationMinutes,
					Status:            status,
					Frequency:         req.Frequency,
					SeriesID:          seriesID,
					Notes:             req.Notes,
					PendingReason:     req.PendingReason,
					OptimizationScore: o.Score,
				}
				steps = append(steps, step{
					date: o.Date,
					desc: fmt.Sprintf("insert occurrence %d", o.Index),
					run: func(ctx context.Context, repo Repository) ([]Appointment, error) {
						a, err := repo.InsertAppointment(ctx, rec)
						if err != nil {
							return nil, err
						}
						return []Appointment{*a}, nil
					},
				})
			}
			return steps, nil
		})
		return err
	})

	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			s.metrics.LockContention.Inc()
			s.log.Warn().Strs("lock_keys", keys).Msg("booking lock contention")
			return nil, ErrSlotBeingBooked
		case errors.As(err, &conflict):
			s.metrics.BookingConflicts.Inc()
			return nil, conflict
		}
		return nil, fmt.Errorf("create recurring appointment: %w", err)
	}

	s.metrics.AppointmentsCreated.Add(float64(len(created)))

	payload := map[string]any{
		"therapist_id": req.TherapistID.String(),
		"client_id":    req.ClientID.String(),
		"frequency":    req.Frequency,
		"occurrences":  len(created),
	}
	if seriesID != nil {
		payload["series_id"] = seriesID.String()
	}
	s.logEvent(ctx, created[0].ID, EventSeriesCreated, payload)

	return created, nil
}

// withLocks runs fn while holding every key, taken in order.
func (s *Service) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if len(keys) == 0 {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, keys[0], func(ctx context.Context) error {
		return s.withLocks(ctx, keys[1:], fn)
	})
}

// checkConflicts rejects the first occurrence that overlaps an active appointment.
func checkConflicts(occurrences []schedule.Occurrence, start, end string, existing []Appointment) error {
	byDate := make(map[string][]Appointment)
	for _, a := range existing {
		if !a.Active() {
			continue
		}
		k := a.Date.Format(schedule.DateLayout)
		byDate[k] = append(byDate[k], a)
	}

	for _, o := range occurrences {
		for _, a := range byDate[o.Date.Format(schedule.DateLayout)] {
			if schedule.Overlaps(start, end, a.StartTime, a.EndTime) {
				return &ConflictError{Date: o.Date, StartTime: start, EndTime: end, ConflictingID: a.ID}
			}
		}
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.FindAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListFilter selects appointments by therapist and/or client.
type ListFilter struct {
	TherapistID *uuid.UUID
	ClientID    *uuid.UUID
	Range       *DateRange
}

func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	switch {
	case f.TherapistID != nil:
		appts, err := s.repo.FindAppointmentsByTherapist(ctx, *f.TherapistID, f.Range)
		if err != nil {
			return nil, fmt.Errorf("list therapist appointments: %w", err)
		}
		if f.ClientID == nil {
			return appts, nil
		}
		out := appts[:0]
		for _, a := range appts {
			if a.ClientID == *f.ClientID {
				out = append(out, a)
			}
		}
		return out, nil
	case f.ClientID != nil:
		appts, err := s.repo.FindAppointmentsByClient(ctx, *f.ClientID, f.Range)
		if err != nil {
			return nil, fmt.Errorf("list client appointments: %w", err)
		}
		return appts, nil
	}
	return nil, invalid("therapist_id", "therapist_id or client_id is required")
}

// CancelAppointment marks one appointment cancelled. Cancelling twice is a no-op.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.FindAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}

	cancelled := StatusCancelled
	updated, err := s.repo.UpdateAppointment(ctx, id, AppointmentPatch{Status: &cancelled})
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{"previous_status": appt.Status})
	return updated, nil
}

// ReplaceClientAvailability swaps the client's weekly windows for blocks.
func (s *Service) ReplaceClientAvailability(ctx context.Context, clientID uuid.UUID, blocks []TimeBlock) ([]ClientAvailability, error) {
	if err := s.checkBlocks(blocks); err != nil {
		return nil, err
	}

	var saved []ClientAvailability
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		saved, err = tx.ReplaceAvailability(ctx, clientID, blocks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replace client availability: %w", err)
	}
	return saved, nil
}

// ReplaceWorkingHours swaps the therapist's weekly working hours for blocks.
func (s *Service) ReplaceWorkingHours(ctx context.Context, therapistID uuid.UUID, blocks []TimeBlock) ([]WorkingHoursBlock, error) {
	if err := s.checkBlocks(blocks); err != nil {
		return nil, err
	}

	var saved []WorkingHoursBlock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		saved, err = tx.ReplaceWorkingHours(ctx, therapistID, blocks)
		return err
	})
	s.hours.Invalidate(therapistID)
	if err != nil {
		return nil, fmt.Errorf("replace working hours: %w", err)
	}
	return saved, nil
}

func (s *Service) checkBlocks(blocks []TimeBlock) error {
	for i, b := range blocks {
		if err := s.check(b); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("blocks[%d].%s", i, ve.Field)
			}
			return err
		}
		if b.EndTime <= b.StartTime {
			return invalid(fmt.Sprintf("blocks[%d].end_time", i), "must be after start_time")
		}
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().
			Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}
