// Package metrics provides Prometheus metrics instrumentation for driftkv.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for driftkv. It satisfies the
// fallback package's MetricsRecorder interface.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Migration metrics
	migrations        *prometheus.CounterVec
	migrationDuration *prometheus.HistogramVec
	activeTarget      prometheus.Gauge

	// Probe metrics
	availabilityChecks *prometheus.CounterVec
	targetAvailable    *prometheus.GaugeVec

	// Transaction metrics
	staleRollbacks prometheus.Counter
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool

	// MigrationDurationBuckets configures the migration duration histogram.
	MigrationDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		MigrationDurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}
	m.initFallbackMetrics(cfg)
	return m
}

func (m *Manager) initFallbackMetrics(cfg Config) {
	m.migrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftkv_migrations_total",
			Help: "Total number of backend migration attempts by outcome",
		},
		[]string{"from", "to", "status"},
	)

	m.migrationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftkv_migration_duration_seconds",
			Help:    "Backend migration duration in seconds",
			Buckets: cfg.MigrationDurationBuckets,
		},
		[]string{"status"},
	)

	m.activeTarget = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftkv_active_target_index",
			Help: "Index of the currently active backend (-1 is standalone)",
		},
	)

	m.availabilityChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftkv_availability_checks_total",
			Help: "Total number of availability probes by target and result",
		},
		[]string{"target", "result"},
	)

	m.targetAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "driftkv_target_available",
			Help: "Whether a fallback target is currently considered available",
		},
		[]string{"target"},
	)

	m.staleRollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftkv_stale_transaction_rollbacks_total",
			Help: "Total number of transactions rolled back for crossing a migration",
		},
	)

	m.registry.MustRegister(m.migrations)
	m.registry.MustRegister(m.migrationDuration)
	m.registry.MustRegister(m.activeTarget)
	m.registry.MustRegister(m.availabilityChecks)
	m.registry.MustRegister(m.targetAvailable)
	m.registry.MustRegister(m.staleRollbacks)
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler returns an HTTP handler exposing the registry, for callers that
// run their own metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMigration records one migration attempt.
func (m *Manager) RecordMigration(fromIndex, toIndex int, status string, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.migrations.WithLabelValues(indexLabel(fromIndex), indexLabel(toIndex), status).Inc()
	m.migrationDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// SetActiveTarget records the currently active backend index.
func (m *Manager) SetActiveTarget(index int) {
	if !m.enabled {
		return
	}
	m.activeTarget.Set(float64(index))
}

// RecordAvailabilityCheck records one availability probe result.
func (m *Manager) RecordAvailabilityCheck(targetIndex int, available bool) {
	if !m.enabled {
		return
	}
	result := "unavailable"
	if available {
		result = "available"
	}
	m.availabilityChecks.WithLabelValues(indexLabel(targetIndex), result).Inc()
}

// SetTargetAvailable records a target's availability state.
func (m *Manager) SetTargetAvailable(targetIndex int, available bool) {
	if !m.enabled {
		return
	}
	v := 0.0
	if available {
		v = 1.0
	}
	m.targetAvailable.WithLabelValues(indexLabel(targetIndex)).Set(v)
}

// RecordStaleTransactionRollback records one transaction rolled back for
// crossing a migration boundary.
func (m *Manager) RecordStaleTransactionRollback() {
	if !m.enabled {
		return
	}
	m.staleRollbacks.Inc()
}

func indexLabel(index int) string {
	if index == -1 {
		return "standalone"
	}
	return strconv.Itoa(index)
}
