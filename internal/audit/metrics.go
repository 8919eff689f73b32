package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit log.
type Metrics struct {
	Appends        *prometheus.CounterVec
	AppendLatency  prometheus.Histogram
	WriteFailures  prometheus.Counter
	EmergencyRoute *prometheus.CounterVec
}

// NewMetrics registers audit metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Appends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_audit_appends_total",
			Help: "Audit entries appended, by action",
		}, []string{"action"}),
		AppendLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phiguard_audit_append_duration_seconds",
			Help:    "Duration of synchronous audit appends",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		WriteFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_audit_write_failures_total",
			Help: "Audit appends that failed to persist",
		}),
		EmergencyRoute: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_audit_emergency_notifications_total",
			Help: "Entries routed to the emergency channel, by delivery status",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeAppend(action Action, d time.Duration) {
	if m != nil {
		m.Appends.WithLabelValues(string(action)).Inc()
		m.AppendLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) incWriteFailure() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) incEmergency(status string) {
	if m != nil {
		m.EmergencyRoute.WithLabelValues(status).Inc()
	}
}
