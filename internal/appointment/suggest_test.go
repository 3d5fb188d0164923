package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type suggestFixture struct {
	fixture
	client, therapist uuid.UUID
	booked            Appointment
}

// Client free Monday 09-12, therapist working Monday 08-13, therapist busy
// with someone else on 2024-06-03 10:00-11:00.
func newSuggestFixture(t *testing.T) suggestFixture {
	f := newFixture(t)
	client, therapist := uuid.New(), uuid.New()

	_, err := f.svc.ReplaceClientAvailability(context.Background(), client, []TimeBlock{
		{DayOfWeek: 0, StartTime: "09:00", EndTime: "12:00"},
	})
	require.NoError(t, err)
	_, err = f.svc.ReplaceWorkingHours(context.Background(), therapist, []TimeBlock{
		{DayOfWeek: 0, StartTime: "08:00", EndTime: "13:00"},
	})
	require.NoError(t, err)

	booked := f.repo.put(Appointment{
		TherapistID: therapist,
		ClientID:    uuid.New(),
		Date:        day(2024, 6, 3),
		StartTime:   "10:00",
		EndTime:     "11:00",
	})
	return suggestFixture{fixture: f, client: client, therapist: therapist, booked: booked}
}

type slotKey struct {
	date string
	hour int
}

func slotsOf(t *testing.T, s suggestFixture, exclude *uuid.UUID) []slotKey {
	t.Helper()
	ranked, err := s.svc.SuggestSlots(context.Background(), s.client, s.therapist, exclude)
	require.NoError(t, err)
	out := make([]slotKey, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, slotKey{r.Date.Format("2006-01-02"), r.StartHour})
	}
	return out
}

func TestSuggestSlots_RanksAndFilters(t *testing.T) {
	s := newSuggestFixture(t)

	ranked, err := s.svc.SuggestSlots(context.Background(), s.client, s.therapist, nil)
	require.NoError(t, err)
	require.Len(t, ranked, 5)

	top := ranked[0]
	assert.Equal(t, day(2024, 6, 3), top.Date)
	assert.Equal(t, 11, top.StartHour)
	assert.Equal(t, 55, top.Score, "adjacent + today + core hours")
	assert.Equal(t, "11:00", top.StartTime())
	assert.Equal(t, "12:00", top.EndTime())

	assert.Equal(t, 9, ranked[1].StartHour)
	assert.Equal(t, 45, ranked[1].Score)

	assert.NotContains(t, slotsOf(t, s, nil), slotKey{"2024-06-03", 10})

	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Score, ranked[i].Score)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(s.svc.metrics.SuggestionRequests.WithLabelValues("ok")))
}

func TestSuggestSlots_ExcludeFreesOwnSlot(t *testing.T) {
	s := newSuggestFixture(t)
	exclude := s.booked.ID

	slots := slotsOf(t, s, &exclude)
	assert.Len(t, slots, 6)
	assert.Contains(t, slots, slotKey{"2024-06-03", 10})
}

func TestSuggestSlots_ClientBusyWithAnotherTherapist(t *testing.T) {
	s := newSuggestFixture(t)
	s.repo.put(Appointment{
		TherapistID: uuid.New(),
		ClientID:    s.client,
		Date:        day(2024, 6, 10),
		StartTime:   "09:00",
		EndTime:     "10:00",
	})

	slots := slotsOf(t, s, nil)
	assert.Len(t, slots, 4)
	assert.NotContains(t, slots, slotKey{"2024-06-10", 9})
}

func TestSuggestSlots_CancelledBookingDoesNotBlock(t *testing.T) {
	s := newSuggestFixture(t)
	_, err := s.svc.CancelAppointment(context.Background(), s.booked.ID)
	require.NoError(t, err)

	assert.Contains(t, slotsOf(t, s, nil), slotKey{"2024-06-03", 10})
}

func TestSuggestSlots_DropsElapsedHoursToday(t *testing.T) {
	s := newSuggestFixture(t)
	s.svc.now = func() time.Time { return time.Date(2024, 6, 3, 10, 15, 0, 0, time.UTC) }

	slots := slotsOf(t, s, nil)
	assert.NotContains(t, slots, slotKey{"2024-06-03", 9})
	assert.NotContains(t, slots, slotKey{"2024-06-03", 10})
	assert.Contains(t, slots, slotKey{"2024-06-03", 11})
	assert.Contains(t, slots, slotKey{"2024-06-10", 9})
}

func TestSuggestSlots_NoAvailability(t *testing.T) {
	s := newSuggestFixture(t)

	ranked, err := s.svc.SuggestSlots(context.Background(), uuid.New(), s.therapist, nil)
	require.NoError(t, err)
	assert.NotNil(t, ranked)
	assert.Empty(t, ranked)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.svc.metrics.SuggestionRequests.WithLabelValues("empty")))
}

func TestSuggestSlots_RepositoryError(t *testing.T) {
	s := newSuggestFixture(t)
	s.repo.failAt["find_therapist"] = 1

	_, err := s.svc.SuggestSlots(context.Background(), s.client, s.therapist, nil)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.svc.metrics.SuggestionRequests.WithLabelValues("error")))
}

func TestSuggestSlots_CachesWorkingHours(t *testing.T) {
	s := newSuggestFixture(t)

	slotsOf(t, s, nil)
	slotsOf(t, s, nil)
	assert.Equal(t, 1, s.repo.calls["find_hours"])

	_, err := s.svc.ReplaceWorkingHours(context.Background(), s.therapist, []TimeBlock{
		{DayOfWeek: 0, StartTime: "11:00", EndTime: "12:00"},
	})
	require.NoError(t, err)

	slots := slotsOf(t, s, nil)
	assert.Equal(t, 2, s.repo.calls["find_hours"])
	assert.ElementsMatch(t, []slotKey{{"2024-06-03", 11}, {"2024-06-10", 11}}, slots)
}

func TestReplaceClientAvailability_Validation(t *testing.T) {
	tests := []struct {
		name  string
		block TimeBlock
		field string
	}{
		{"day out of range", TimeBlock{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"}, "blocks[1].day_of_week"},
		{"bad clock", TimeBlock{DayOfWeek: 1, StartTime: "9:00am", EndTime: "10:00"}, "blocks[1].start_time"},
		{"end before start", TimeBlock{DayOfWeek: 1, StartTime: "10:00", EndTime: "09:00"}, "blocks[1].end_time"},
		{"empty window", TimeBlock{DayOfWeek: 1, StartTime: "10:00", EndTime: "10:00"}, "blocks[1].end_time"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			blocks := []TimeBlock{{DayOfWeek: 0, StartTime: "08:00", EndTime: "09:00"}, tt.block}

			_, err := f.svc.ReplaceClientAvailability(context.Background(), uuid.New(), blocks)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.Zero(t, f.repo.calls["replace_availability"])
		})
	}
}

func TestReplaceClientAvailability_ReplacesWholeSet(t *testing.T) {
	f := newFixture(t)
	client := uuid.New()

	_, err := f.svc.ReplaceClientAvailability(context.Background(), client, []TimeBlock{
		{DayOfWeek: 0, StartTime: "09:00", EndTime: "12:00"},
		{DayOfWeek: 2, StartTime: "15:00", EndTime: "18:00"},
	})
	require.NoError(t, err)

	saved, err := f.svc.ReplaceClientAvailability(context.Background(), client, []TimeBlock{
		{DayOfWeek: 4, StartTime: "10:00", EndTime: "11:00"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	stored, err := f.repo.FindAvailability(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 4, stored[0].DayOfWeek)
	assert.Equal(t, client, stored[0].ClientID)
}
