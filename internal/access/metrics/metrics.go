package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for access decisions.
type Metrics struct {
	// Decisions by outcome and reason code
	Decisions *prometheus.CounterVec

	// Consent lookup latency per category
	ConsentLookupLatency prometheus.Histogram

	// Full check latency including the audit write
	CheckLatency prometheus.Histogram

	// Decisions forced to deny because the audit write failed
	AuditFailures prometheus.Counter
}

// New registers access metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_access_decisions_total",
			Help: "Access decisions by outcome and reason code",
		}, []string{"outcome", "reason"}),

		ConsentLookupLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phiguard_access_consent_lookup_duration_seconds",
			Help:    "Duration of a single consent lookup",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		CheckLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phiguard_access_check_duration_seconds",
			Help:    "Duration of a full access check including the audit write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_access_audit_failures_total",
			Help: "Decisions forced to deny because the audit entry could not be written",
		}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(allowed bool, reason string) {
	if m != nil {
		outcome := "deny"
		if allowed {
			outcome = "allow"
		}
		m.Decisions.WithLabelValues(outcome, reason).Inc()
	}
}

// ObserveConsentLookup records one consent lookup.
func (m *Metrics) ObserveConsentLookup(d time.Duration) {
	if m != nil {
		m.ConsentLookupLatency.Observe(d.Seconds())
	}
}

// ObserveCheck records the total check duration.
func (m *Metrics) ObserveCheck(d time.Duration) {
	if m != nil {
		m.CheckLatency.Observe(d.Seconds())
	}
}

// IncrementAuditFailure records a decision lost to an audit failure.
func (m *Metrics) IncrementAuditFailure() {
	if m != nil {
		m.AuditFailures.Inc()
	}
}
