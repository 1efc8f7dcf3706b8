// Package metrics exposes prometheus instruments for the wins core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Append outcomes recorded on AppendsTotal.
const (
	OutcomeRejected   = "rejected"
	OutcomeReconciled = "reconciled"
	OutcomeFailed     = "failed"
)

// Metrics holds all instruments. A nil *Metrics is valid and records nothing,
// so components can take it as an optional dependency.
type Metrics struct {
	registry *prometheus.Registry

	AppendsTotal      *prometheus.CounterVec
	InflightPersists  prometheus.Gauge
	PersistDuration   prometheus.Histogram
	MigrationsApplied prometheus.Counter
}

// New creates instruments registered on a fresh registry under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		AppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "appends_total",
				Help:      "Append attempts by outcome",
			},
			[]string{"outcome"},
		),
		InflightPersists: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_persists",
				Help:      "Optimistic appends whose durable insert has not completed",
			},
		),
		PersistDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "persist_duration_seconds",
				Help:      "Durable insert latency",
				Buckets:   prometheus.DefBuckets,
			},
		),
		MigrationsApplied: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_applied_total",
				Help:      "Schema steps applied by this process",
			},
		),
	}

	registry.MustRegister(m.AppendsTotal, m.InflightPersists, m.PersistDuration, m.MigrationsApplied)
	return m
}

// Registry returns the registry holding every instrument.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Append records one append outcome.
func (m *Metrics) Append(outcome string) {
	if m == nil {
		return
	}
	m.AppendsTotal.WithLabelValues(outcome).Inc()
}

// PersistStarted marks an insert as in flight.
func (m *Metrics) PersistStarted() {
	if m == nil {
		return
	}
	m.InflightPersists.Inc()
}

// PersistFinished records an insert's latency and clears it from in flight.
func (m *Metrics) PersistFinished(seconds float64) {
	if m == nil {
		return
	}
	m.InflightPersists.Dec()
	m.PersistDuration.Observe(seconds)
}

// Migrated records n applied schema steps.
func (m *Metrics) Migrated(n int) {
	if m == nil {
		return
	}
	m.MigrationsApplied.Add(float64(n))
}
