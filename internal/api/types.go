package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

// Dates cross the wire as YYYY-MM-DD strings.

type RecurringAppointmentRequest struct {
	ClientID          string  `json:"client_id"`
	TherapistID       string  `json:"therapist_id"`
	Date              string  `json:"date"`
	StartTime         string  `json:"start_time"`
	DurationMinutes   int     `json:"duration_minutes"`
	Frequency         string  `json:"frequency"`
	Horizon           string  `json:"horizon"`
	Status            string  `json:"status"`
	Notes             *string `json:"notes"`
	PendingReason     *string `json:"pending_reason"`
	OptimizationScore int     `json:"optimization_score"`
}

func (r RecurringAppointmentRequest) toDomain() (appointment.AnchorBookingRequest, error) {
	clientID, err := uuid.Parse(r.ClientID)
	if err != nil {
		return appointment.AnchorBookingRequest{}, fieldError("client_id", "must be a valid UUID")
	}
	therapistID, err := uuid.Parse(r.TherapistID)
	if err != nil {
		return appointment.AnchorBookingRequest{}, fieldError("therapist_id", "must be a valid UUID")
	}
	date, err := schedule.ParseDate(r.Date)
	if err != nil {
		return appointment.AnchorBookingRequest{}, fieldError("date", "must be YYYY-MM-DD")
	}

	return appointment.AnchorBookingRequest{
		ClientID:          clientID,
		TherapistID:       therapistID,
		Date:              date,
		StartTime:         r.StartTime,
		DurationMinutes:   r.DurationMinutes,
		Frequency:         schedule.Frequency(r.Frequency),
		Horizon:           schedule.Horizon(r.Horizon),
		Status:            appointment.Status(r.Status),
		Notes:             r.Notes,
		PendingReason:     r.PendingReason,
		OptimizationScore: r.OptimizationScore,
	}, nil
}

type AppointmentPatchRequest struct {
	Date              *string `json:"date"`
	StartTime         *string `json:"start_time"`
	EndTime           *string `json:"end_time"`
	DurationMinutes   *int    `json:"duration_minutes"`
	Status            *string `json:"status"`
	Notes             *string `json:"notes"`
	PendingReason     *string `json:"pending_reason"`
	OptimizationScore *int    `json:"optimization_score"`
}

func (r AppointmentPatchRequest) toDomain() (appointment.AppointmentPatch, error) {
	patch := appointment.AppointmentPatch{
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		DurationMinutes:   r.DurationMinutes,
		Notes:             r.Notes,
		PendingReason:     r.PendingReason,
		OptimizationScore: r.OptimizationScore,
	}
	if r.Date != nil {
		d, err := schedule.ParseDate(*r.Date)
		if err != nil {
			return appointment.AppointmentPatch{}, fieldError("date", "must be YYYY-MM-DD")
		}
		patch.Date = &d
	}
	if r.Status != nil {
		st := appointment.Status(*r.Status)
		patch.Status = &st
	}
	return patch, nil
}

type FrequencyChangeRequest struct {
	Frequency string `json:"frequency"`
}

type TimeBlocksRequest struct {
	Blocks []appointment.TimeBlock `json:"blocks"`
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	TherapistID       uuid.UUID  `json:"therapist_id"`
	ClientID          uuid.UUID  `json:"client_id"`
	Date              string     `json:"date"`
	StartTime         string     `json:"start_time"`
	EndTime           string     `json:"end_time"`
	DurationMinutes   int        `json:"duration_minutes"`
	Status            string     `json:"status"`
	Frequency         string     `json:"frequency"`
	SeriesID          *uuid.UUID `json:"series_id"`
	Notes             *string    `json:"notes,omitempty"`
	PendingReason     *string    `json:"pending_reason,omitempty"`
	OptimizationScore int        `json:"optimization_score"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		TherapistID:       a.TherapistID,
		ClientID:          a.ClientID,
		Date:              a.Date.Format(schedule.DateLayout),
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		DurationMinutes:   a.DurationMinutes,
		Status:            string(a.Status),
		Frequency:         string(a.Frequency),
		SeriesID:          a.SeriesID,
		Notes:             a.Notes,
		PendingReason:     a.PendingReason,
		OptimizationScore: a.OptimizationScore,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

type SlotResponse struct {
	Date      string   `json:"date"`
	DayOfWeek int      `json:"day_of_week"`
	StartTime string   `json:"start_time"`
	EndTime   string   `json:"end_time"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
	Optimal   bool     `json:"optimal"`
}

func toSlotResponses(slots []schedule.RankedSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		reasons := s.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		out = append(out, SlotResponse{
			Date:      s.Date.Format(schedule.DateLayout),
			DayOfWeek: s.DayOfWeek,
			StartTime: s.StartTime(),
			EndTime:   s.EndTime(),
			Score:     s.Score,
			Reasons:   reasons,
			Optimal:   s.Optimal,
		})
	}
	return out
}

type DeleteResponse struct {
	Deleted bool   `json:"deleted"`
	Scope   string `json:"scope"`
}

type SeriesResponse struct {
	SeriesID uuid.UUID `json:"series_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`

	// Set for partial batch failures.
	Completed  *int  `json:"completed,omitempty"`
	Total      *int  `json:"total,omitempty"`
	RolledBack *bool `json:"rolled_back,omitempty"`
}

func fieldError(field, msg string) error {
	return &appointment.ValidationError{Field: field, Message: msg}
}

func parseUUIDParam(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fieldError(name, fmt.Sprintf("must be a valid UUID, got %q", raw))
	}
	return id, nil
}
