// Package metrics defines the Prometheus collectors for ingestion. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingestion outcomes.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the ingestion collectors.
type Metrics struct {
	Ingestions  *prometheus.CounterVec
	Duration    prometheus.Histogram
	DriftEvents *prometheus.CounterVec
	Proofs      *prometheus.CounterVec
	Violations  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_ingestions_total",
			Help: "File ingestions by outcome.",
		}, []string{"status"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "canon_ingest_duration_seconds",
			Help:    "Wall time of one file ingestion.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		DriftEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_drift_events_total",
			Help: "Drift events recorded by category.",
		}, []string{"category"}),
		Proofs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_proofs_total",
			Help: "Equivalence proofs by status.",
		}, []string{"status"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_violations_total",
			Help: "Governance violations by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(m.Ingestions, m.Duration, m.DriftEvents, m.Proofs, m.Violations)
	return m
}

// ObserveIngest records one ingestion attempt.
func (m *Metrics) ObserveIngest(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.Ingestions.WithLabelValues(status).Inc()
	m.Duration.Observe(d.Seconds())
}

// ObserveDrift counts one drift event.
func (m *Metrics) ObserveDrift(category string) {
	if m == nil {
		return
	}
	m.DriftEvents.WithLabelValues(category).Inc()
}

// ObserveProof counts one equivalence proof.
func (m *Metrics) ObserveProof(status string) {
	if m == nil {
		return
	}
	m.Proofs.WithLabelValues(status).Inc()
}

// ObserveViolation counts one governance violation.
func (m *Metrics) ObserveViolation(severity string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(severity).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
