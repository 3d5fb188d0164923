package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

func suggestSlotsHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, err := parseUUIDParam("therapist_id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		clientID, err := parseUUIDParam("client_id", r.URL.Query().Get("client_id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		var exclude *uuid.UUID
		if raw := r.URL.Query().Get("exclude"); raw != "" {
			id, err := parseUUIDParam("exclude", raw)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
			exclude = &id
		}

		slots, err := svc.SuggestSlots(r.Context(), clientID, therapistID, exclude)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

func createRecurringHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RecurringAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		anchor, err := req.toDomain()
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		created, err := svc.CreateRecurringAppointment(r.Context(), anchor)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponses(created))
	}
}

func getAppointmentHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam("id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func listAppointmentsHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter appointment.ListFilter

		if raw := q.Get("therapist_id"); raw != "" {
			id, err := parseUUIDParam("therapist_id", raw)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
			filter.TherapistID = &id
		}
		if raw := q.Get("client_id"); raw != "" {
			id, err := parseUUIDParam("client_id", raw)
			if err != nil {
				handleServiceError(w, r, log, err)
				return
			}
			filter.ClientID = &id
		}

		var rng appointment.DateRange
		if raw := q.Get("from"); raw != "" {
			d, err := schedule.ParseDate(raw)
			if err != nil {
				handleServiceError(w, r, log, fieldError("from", "must be YYYY-MM-DD"))
				return
			}
			rng.From = d
			filter.Range = &rng
		}
		if raw := q.Get("to"); raw != "" {
			d, err := schedule.ParseDate(raw)
			if err != nil {
				handleServiceError(w, r, log, fieldError("to", "must be YYYY-MM-DD"))
				return
			}
			rng.To = d
			filter.Range = &rng
		}

		appts, err := svc.ListAppointments(r.Context(), filter)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(appts))
	}
}

func updateAppointmentHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam("id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		scope, err := appointment.ParseScope(r.URL.Query().Get("scope"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		var req AppointmentPatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		patch, err := req.toDomain()
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		updated, err := svc.UpdateAppointmentSeries(r.Context(), id, scope, patch)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(updated))
	}
}

func deleteAppointmentHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam("id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		scope, err := appointment.ParseScope(r.URL.Query().Get("scope"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		if err := svc.DeleteAppointmentSeries(r.Context(), id, scope); err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{Deleted: true, Scope: string(scope)})
	}
}

func changeFrequencyHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam("id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		var req FrequencyChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		updated, err := svc.ChangeSeriesFrequency(r.Context(), id, schedule.Frequency(req.Frequency))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponses(updated))
	}
}

func ensureSeriesHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam("id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		seriesID, err := svc.EnsureSeriesID(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, SeriesResponse{SeriesID: seriesID})
	}
}

func cancelAppointmentHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseUUIDParam("id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		appt, err := svc.CancelAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func replaceAvailabilityHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := parseUUIDParam("client_id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		var req TimeBlocksRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		saved, err := svc.ReplaceClientAvailability(r.Context(), clientID, req.Blocks)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func replaceWorkingHoursHandler(svc Scheduler, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		therapistID, err := parseUUIDParam("therapist_id", chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		var req TimeBlocksRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		saved, err := svc.ReplaceWorkingHours(r.Context(), therapistID, req.Blocks)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var (
		validation *appointment.ValidationError
		conflict   *appointment.ConflictError
		partial    *appointment.PartialBatchError
	)

	switch {
	case errors.As(err, &partial):
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("partial batch failure")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:      "partial_batch_failure",
			Details:    err.Error(),
			Completed:  &partial.Completed,
			Total:      &partial.Total,
			RolledBack: &partial.RolledBack,
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Details: validation.Message,
			Field:   validation.Field,
		})
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrUnlinkedSeries):
		writeError(w, http.StatusUnprocessableEntity, "unlinked_series", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		log.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
