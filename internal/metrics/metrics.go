// Package metrics defines the Prometheus collectors exported by the streak service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service collectors
type Metrics struct {
	EventsLogged       *prometheus.CounterVec
	EventsDeduplicated *prometheus.CounterVec
	PersistFailures    *prometheus.CounterVec
	ArchiveFailures    prometheus.Counter
	SnapshotRuns       *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_events_logged_total",
				Help: "Qualifying events accepted into the store",
			},
			[]string{"type"},
		),
		EventsDeduplicated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_events_deduplicated_total",
				Help: "Qualifying events dropped because the day slot was already taken",
			},
			[]string{"type"},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_store_persist_failures_total",
				Help: "Snapshot writes that failed to reach the backing store",
			},
			[]string{"backend"},
		),
		ArchiveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "streak_archive_failures_total",
				Help: "Accepted events that could not be written to the archive",
			},
		),
		SnapshotRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "streak_snapshot_runs_total",
				Help: "Daily snapshot runs by outcome",
			},
			[]string{"result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsLogged,
			m.EventsDeduplicated,
			m.PersistFailures,
			m.ArchiveFailures,
			m.SnapshotRuns,
			m.HTTPRequests,
			m.HTTPDuration,
		)
	}

	return m
}

// NewUnregistered creates collectors that are not exported anywhere; used by tests and tools
func NewUnregistered() *Metrics {
	return New(nil)
}
