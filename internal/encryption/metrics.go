package encryption

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for field encryption.
type Metrics struct {
	Operations *prometheus.CounterVec
}

// NewMetrics registers encryption metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Operations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_field_crypto_operations_total",
			Help: "Field encrypt/decrypt operations by outcome",
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}
