// Package telemetry exposes Prometheus metrics for key issuance and
// verification. Metrics are registered on a caller-owned registry.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Verification results recorded by Verification.
const (
	ResultAccepted  = "accepted"
	ResultRejected  = "rejected"
	ResultMalformed = "malformed"
	ResultError     = "error"
)

// Metrics holds the keysmith collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	issued        prometheus.Counter
	deleted       prometheus.Counter
	verifications *prometheus.CounterVec
	hashDuration  prometheus.Histogram
	touchDropped  prometheus.Counter
	integrity     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_issued_total",
			Help: "Total number of API keys issued",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_deleted_total",
			Help: "Total number of API keys deleted by their owner",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keysmith_verifications_total",
			Help: "Total number of API key verifications by result",
		}, []string{"result"}),
		hashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keysmith_hash_duration_seconds",
			Help:    "Histogram of key derivation duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		touchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_touch_dropped_total",
			Help: "Number of last-used updates dropped because the queue was full",
		}),
		integrity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keysmith_integrity_warnings_total",
			Help: "Number of stored digests that could not be parsed during verification",
		}),
	}
	reg.MustRegister(m.issued, m.deleted, m.verifications, m.hashDuration, m.touchDropped, m.integrity)
	return m
}

// Issued records a successfully issued key.
func (m *Metrics) Issued() {
	if m != nil {
		m.issued.Inc()
	}
}

// Deleted records a successful owner deletion.
func (m *Metrics) Deleted() {
	if m != nil {
		m.deleted.Inc()
	}
}

// Verification records the outcome of one verification.
func (m *Metrics) Verification(result string) {
	if m != nil {
		m.verifications.WithLabelValues(result).Inc()
	}
}

// ObserveHash records the duration of one key derivation.
func (m *Metrics) ObserveHash(d time.Duration) {
	if m != nil {
		m.hashDuration.Observe(d.Seconds())
	}
}

// TouchDropped records a last-used update that was discarded.
func (m *Metrics) TouchDropped() {
	if m != nil {
		m.touchDropped.Inc()
	}
}

// IntegrityWarning records a stored digest that failed to parse.
func (m *Metrics) IntegrityWarning() {
	if m != nil {
		m.integrity.Inc()
	}
}
