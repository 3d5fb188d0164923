package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/metrics"
	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

// Scheduler is the part of *appointment.Service the HTTP layer calls.
type Scheduler interface {
	SuggestSlots(ctx context.Context, clientID, therapistID uuid.UUID, exclude *uuid.UUID) ([]schedule.RankedSlot, error)
	CreateRecurringAppointment(ctx context.Context, req appointment.AnchorBookingRequest) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, f appointment.ListFilter) ([]appointment.Appointment, error)
	UpdateAppointmentSeries(ctx context.Context, id uuid.UUID, scope appointment.Scope, patch appointment.AppointmentPatch) ([]appointment.Appointment, error)
	DeleteAppointmentSeries(ctx context.Context, id uuid.UUID, scope appointment.Scope) error
	ChangeSeriesFrequency(ctx context.Context, id uuid.UUID, f schedule.Frequency) ([]appointment.Appointment, error)
	EnsureSeriesID(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ReplaceClientAvailability(ctx context.Context, clientID uuid.UUID, blocks []appointment.TimeBlock) ([]appointment.ClientAvailability, error)
	ReplaceWorkingHours(ctx context.Context, therapistID uuid.UUID, blocks []appointment.TimeBlock) ([]appointment.WorkingHoursBlock, error)
}

var _ Scheduler = (*appointment.Service)(nil)

type RouterConfig struct {
	Service  Scheduler
	Postgres Pinger
	Redis    Pinger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Limiter  *RateLimiter
	Logger   zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	log := cfg.Logger

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	svc := cfg.Service

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware)
		}
		r.Get("/therapists/{id}/suggestions", suggestSlotsHandler(svc, log))
	})

	r.Put("/therapists/{id}/working-hours", replaceWorkingHoursHandler(svc, log))
	r.Put("/clients/{id}/availability", replaceAvailabilityHandler(svc, log))

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(svc, log))
		r.Post("/recurring", createRecurringHandler(svc, log))
		r.Get("/{id}", getAppointmentHandler(svc, log))
		r.Patch("/{id}", updateAppointmentHandler(svc, log))
		r.Delete("/{id}", deleteAppointmentHandler(svc, log))
		r.Post("/{id}/frequency", changeFrequencyHandler(svc, log))
		r.Post("/{id}/series", ensureSeriesHandler(svc, log))
		r.Post("/{id}/cancel", cancelAppointmentHandler(svc, log))
	})

	return r
}
