package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "therapy_scheduling"

// Metrics holds the scheduler's collectors.
type Metrics struct {
	// Engine
	SuggestionRequests  *prometheus.CounterVec
	SuggestionsReturned prometheus.Histogram
	AppointmentsCreated prometheus.Counter
	SeriesMutations     *prometheus.CounterVec
	BatchFailures       *prometheus.CounterVec
	BookingConflicts    prometheus.Counter
	LockContention      prometheus.Counter

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		SuggestionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "suggestion_requests_total",
			Help:      "Slot suggestion requests by outcome",
		}, []string{"outcome"}),
		SuggestionsReturned: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "suggestions_returned",
			Help:      "Number of ranked slots returned per request",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		}),
		AppointmentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "appointments_created_total",
			Help:      "Appointment records materialised by the series generator",
		}),
		SeriesMutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "series_mutations_total",
			Help:      "Series edits, deletes and frequency changes",
		}, []string{"op", "scope"}),
		BatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_failures_total",
			Help:      "Multi-record writes that failed after at least one step",
		}, []string{"op", "rolled_back"}),
		BookingConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "booking_conflicts_total",
			Help:      "Bookings rejected because the slot was already taken",
		}),
		LockContention: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "booking_lock_contention_total",
			Help:      "Bookings rejected because another request held the slot lock",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
	}
}
