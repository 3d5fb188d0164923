package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

// UpdateAppointmentSeries applies patch to the target appointment and, for
// this_and_future, to every later member of its series.
//
// A this_only edit also detaches the target from its series. A
// this_and_future edit on an appointment without a series degrades to a
// single-record update. When the patch moves the date, each later member is
// shifted by the same number of days.
func (s *Service) UpdateAppointmentSeries(ctx context.Context, id uuid.UUID, scope Scope, patch AppointmentPatch) ([]Appointment, error) {
	if !scope.Valid() {
		return nil, invalid("scope", "must be this_only or this_and_future, got %q", scope)
	}
	if err := s.check(patch); err != nil {
		return nil, err
	}
	if patch.empty() {
		return nil, invalid("patch", "at least one field must be set")
	}

	target, err := s.repo.FindAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if err := s.resolveTimes(*target, &patch); err != nil {
		return nil, err
	}

	var updated []Appointment
	switch {
	case scope == ScopeThisOnly:
		a, err := s.repo.UpdateAppointment(ctx, id, patch.detach())
		if err != nil {
			return nil, fmt.Errorf("update appointment: %w", err)
		}
		updated = []Appointment{*a}

	case target.SeriesID == nil:
		a, err := s.repo.UpdateAppointment(ctx, id, patch)
		if err != nil {
			return nil, fmt.Errorf("update appointment: %w", err)
		}
		updated = []Appointment{*a}

	case patch.Date == nil:
		seriesID := *target.SeriesID
		updated, err = s.runBatch(ctx, "update_series", func(ctx context.Context, tx Repository) ([]step, error) {
			return []step{{
				date: target.Date,
				desc: "update series",
				run: func(ctx context.Context, repo Repository) ([]Appointment, error) {
					return repo.UpdateManyBySeries(ctx, seriesID, target.Date, patch)
				},
			}}, nil
		})
		if err != nil {
			return nil, fmt.Errorf("update series: %w", err)
		}

	default:
		delta := schedule.DaysBetween(target.Date, *patch.Date)
		updated, err = s.runBatch(ctx, "shift_series", func(ctx context.Context, tx Repository) ([]step, error) {
			members, err := tx.FindAppointmentsBySeries(ctx, *target.SeriesID, target.Date)
			if err != nil {
				return nil, fmt.Errorf("load series: %w", err)
			}
			steps := make([]step, 0, len(members))
			for _, m := range members {
				shifted := m.Date.AddDate(0, 0, delta)
				p := patch.forRecord(m)
				p.Date = &shifted
				steps = append(steps, step{
					date: m.Date,
					desc: fmt.Sprintf("shift %s", m.Date.Format(schedule.DateLayout)),
					run:  updateStep(m.ID, p),
				})
			}
			return steps, nil
		})
		if err != nil {
			return nil, fmt.Errorf("shift series: %w", err)
		}
	}

	s.metrics.SeriesMutations.WithLabelValues("update", string(scope)).Inc()
	s.logEvent(ctx, id, EventAppointmentUpdated, map[string]any{
		"scope":    scope,
		"affected": len(updated),
	})
	return updated, nil
}

// resolveTimes keeps start, end and duration consistent after the patch and
// rejects status changes on a cancelled appointment.
func (s *Service) resolveTimes(target Appointment, patch *AppointmentPatch) error {
	if target.Status == StatusCancelled && patch.Status != nil && *patch.Status != StatusCancelled {
		return invalid("status", "a cancelled appointment cannot be reopened")
	}

	if patch.StartTime == nil && patch.EndTime == nil && patch.DurationMinutes == nil {
		return nil
	}

	preview := target
	patch.apply(&preview)

	if patch.EndTime == nil {
		end, err := schedule.AddMinutes(preview.StartTime, preview.DurationMinutes)
		if err != nil {
			return invalid("duration_minutes", "%v", err)
		}
		patch.EndTime = &end
		return nil
	}

	minutes, err := schedule.MinutesBetween(preview.StartTime, preview.EndTime)
	if err != nil {
		return invalid("end_time", "%v", err)
	}
	if minutes <= 0 {
		return invalid("end_time", "must be after start_time")
	}
	if patch.DurationMinutes != nil && *patch.DurationMinutes != minutes {
		return invalid("duration_minutes", "does not match start_time and end_time")
	}
	patch.DurationMinutes = &minutes
	return nil
}

func updateStep(id uuid.UUID, patch AppointmentPatch) func(ctx context.Context, repo Repository) ([]Appointment, error) {
	return func(ctx context.Context, repo Repository) ([]Appointment, error) {
		a, err := repo.UpdateAppointment(ctx, id, patch)
		if err != nil {
			return nil, err
		}
		return []Appointment{*a}, nil
	}
}

// DeleteAppointmentSeries deletes the target and, for this_and_future, every
// later member of its series.
func (s *Service) DeleteAppointmentSeries(ctx context.Context, id uuid.UUID, scope Scope) error {
	if !scope.Valid() {
		return invalid("scope", "must be this_only or this_and_future, got %q", scope)
	}

	target, err := s.repo.FindAppointmentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}

	deleted := int64(1)
	if scope == ScopeThisAndFuture && target.SeriesID != nil {
		seriesID := *target.SeriesID
		_, err = s.runBatch(ctx, "delete_series", func(ctx context.Context, tx Repository) ([]step, error) {
			return []step{{
				date: target.Date,
				desc: "delete series",
				run: func(ctx context.Context, repo Repository) ([]Appointment, error) {
					n, err := repo.DeleteManyBySeries(ctx, seriesID, target.Date)
					deleted = n
					return nil, err
				},
			}}, nil
		})
		if err != nil {
			return fmt.Errorf("delete series: %w", err)
		}
	} else if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.metrics.SeriesMutations.WithLabelValues("delete", string(scope)).Inc()
	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"scope":    scope,
		"affected": deleted,
	})
	return nil
}

// ChangeSeriesFrequency re-anchors the series on the target appointment and
// renumbers every occurrence from it with the new interval. Previous dates of
// later occurrences are discarded, not stretched. An unlinked recurring
// appointment is linked first; see EnsureSeriesID.
func (s *Service) ChangeSeriesFrequency(ctx context.Context, id uuid.UUID, newFrequency schedule.Frequency) ([]Appointment, error) {
	if !newFrequency.Valid() {
		return nil, invalid("frequency", "must be one of puntual, semanal, quincenal, got %q", newFrequency)
	}
	if !newFrequency.Recurring() {
		return nil, invalid("frequency", "must be semanal or quincenal; use a this_only edit to detach one occurrence")
	}

	target, err := s.repo.FindAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	updated, err := s.runBatch(ctx, "change_frequency", func(ctx context.Context, tx Repository) ([]step, error) {
		seriesID, err := s.ensureSeriesID(ctx, tx, *target)
		if err != nil {
			return nil, err
		}

		members, err := tx.FindAppointmentsBySeries(ctx, seriesID, target.Date)
		if err != nil {
			return nil, fmt.Errorf("load series: %w", err)
		}
		members = anchorFirst(members, target.ID)

		dates := schedule.SeriesDates(target.Date, newFrequency, len(members))
		if err := checkRenumbered(ctx, tx, *target, members, dates); err != nil {
			return nil, err
		}

		steps := make([]step, 0, len(members))
		for i, m := range members {
			d := dates[i]
			freq := newFrequency
			steps = append(steps, step{
				date: d,
				desc: fmt.Sprintf("renumber occurrence %d", i),
				run:  updateStep(m.ID, AppointmentPatch{Date: &d, frequency: &freq}),
			})
		}
		return steps, nil
	})
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.Is(err, ErrUnlinkedSeries):
			return nil, ErrUnlinkedSeries
		case errors.As(err, &conflict):
			s.metrics.BookingConflicts.Inc()
			return nil, conflict
		}
		return nil, fmt.Errorf("change series frequency: %w", err)
	}

	s.metrics.SeriesMutations.WithLabelValues("change_frequency", string(ScopeThisAndFuture)).Inc()
	s.logEvent(ctx, id, EventFrequencyChanged, map[string]any{
		"from":     target.Frequency,
		"to":       newFrequency,
		"linked":   target.SeriesID == nil,
		"affected": len(updated),
	})
	return updated, nil
}

// checkRenumbered rejects a renumbering that would put an active member on
// time already held by another active appointment of the same therapist or
// client. Members of the series being renumbered do not count.
func checkRenumbered(ctx context.Context, tx Repository, target Appointment, members []Appointment, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}
	rng := &DateRange{From: dates[0], To: dates[len(dates)-1]}

	byTherapist, err := tx.FindAppointmentsByTherapist(ctx, target.TherapistID, rng)
	if err != nil {
		return fmt.Errorf("load therapist appointments: %w", err)
	}
	byClient, err := tx.FindAppointmentsByClient(ctx, target.ClientID, rng)
	if err != nil {
		return fmt.Errorf("load client appointments: %w", err)
	}

	own := make(map[uuid.UUID]bool, len(members))
	for _, m := range members {
		own[m.ID] = true
	}
	var others []Appointment
	for _, a := range append(byTherapist, byClient...) {
		if !own[a.ID] {
			others = append(others, a)
		}
	}

	for i, m := range members {
		if !m.Active() {
			continue
		}
		occ := []schedule.Occurrence{{Index: i, Date: dates[i]}}
		if err := checkConflicts(occ, m.StartTime, m.EndTime, others); err != nil {
			return err
		}
	}
	return nil
}

// anchorFirst moves the target to index 0 and keeps the rest in date order.
// Members sharing the anchor's date are otherwise ordered arbitrarily by the store.
func anchorFirst(members []Appointment, targetID uuid.UUID) []Appointment {
	out := make([]Appointment, 0, len(members))
	for _, m := range members {
		if m.ID == targetID {
			out = append(out, m)
		}
	}
	for _, m := range members {
		if m.ID != targetID {
			out = append(out, m)
		}
	}
	return out
}

// EnsureSeriesID returns the appointment's series id, linking a legacy
// recurring appointment and its unlinked siblings under a new id if needed.
func (s *Service) EnsureSeriesID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	target, err := s.repo.FindAppointmentByID(ctx, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load appointment: %w", err)
	}

	var seriesID uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		seriesID, err = s.ensureSeriesID(ctx, tx, *target)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUnlinkedSeries) {
			return uuid.Nil, ErrUnlinkedSeries
		}
		return uuid.Nil, fmt.Errorf("ensure series id: %w", err)
	}
	if target.SeriesID == nil {
		s.logEvent(ctx, id, EventSeriesLinked, map[string]any{"series_id": seriesID.String()})
	}
	return seriesID, nil
}

// ensureSeriesID stamps a fresh series id onto every other unlinked
// appointment with the same client, therapist, frequency and times dated on
// or after the target, then onto the target itself. Finding no siblings
// fails with ErrUnlinkedSeries so a series of one is never created.
func (s *Service) ensureSeriesID(ctx context.Context, tx Repository, target Appointment) (uuid.UUID, error) {
	if target.SeriesID != nil {
		return *target.SeriesID, nil
	}
	if !target.Frequency.Recurring() {
		return uuid.Nil, ErrUnlinkedSeries
	}

	seriesID := uuid.New()
	n, err := tx.LinkUnlinkedSeries(ctx, SeriesMatch{
		ClientID:    target.ClientID,
		TherapistID: target.TherapistID,
		Frequency:   target.Frequency,
		StartTime:   target.StartTime,
		EndTime:     target.EndTime,
		DateFrom:    target.Date,
		ExcludeID:   target.ID,
	}, seriesID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("link siblings: %w", err)
	}
	if n == 0 {
		return uuid.Nil, ErrUnlinkedSeries
	}

	if _, err := tx.UpdateAppointment(ctx, target.ID, AppointmentPatch{seriesID: &seriesID}); err != nil {
		return uuid.Nil, fmt.Errorf("link target: %w", err)
	}

	s.log.Info().
		Str("appointment_id", target.ID.String()).
		Str("series_id", seriesID.String()).
		Int64("siblings", n).
		Msg("linked legacy recurring appointments")

	return seriesID, nil
}
