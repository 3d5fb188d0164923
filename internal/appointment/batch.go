package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// step is one planned write of a multi-record operation.
type step struct {
	date time.Time
	desc string
	run  func(ctx context.Context, repo Repository) ([]Appointment, error)
}

// planFunc reads what it needs through tx and returns the writes to perform.
// Returning an error aborts the batch before anything is written by a step.
type planFunc func(ctx context.Context, tx Repository) ([]step, error)

// runBatch executes a planned unit of work inside Repository.WithTx. Steps
// run in ascending date order. A failure after at least one completed step
// is reported as *PartialBatchError; RolledBack tells the caller whether the
// store undid the completed steps.
func (s *Service) runBatch(ctx context.Context, op string, plan planFunc) ([]Appointment, error) {
	var (
		results   []Appointment
		completed int
		total     int
		stepErr   bool
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		steps, err := plan(ctx, tx)
		if err != nil {
			return err
		}

		sort.SliceStable(steps, func(i, j int) bool { return steps[i].date.Before(steps[j].date) })
		total = len(steps)

		for _, st := range steps {
			out, err := st.run(ctx, tx)
			if err != nil {
				stepErr = true
				return fmt.Errorf("%s: %w", st.desc, err)
			}
			results = append(results, out...)
			completed++
		}
		return nil
	})
	if err == nil {
		return results, nil
	}

	if !stepErr || completed == 0 {
		return nil, err
	}

	rolledBack := errors.Is(err, ErrTxRolledBack)
	s.metrics.BatchFailures.WithLabelValues(op, fmt.Sprint(rolledBack)).Inc()
	s.log.Error().
		Err(err).
		Str("op", op).
		Int("completed", completed).
		Int("total", total).
		Bool("rolled_back", rolledBack).
		Msg("batch failed part way")

	return nil, &PartialBatchError{
		Op:         op,
		Completed:  completed,
		Total:      total,
		RolledBack: rolledBack,
		Err:        err,
	}
}
