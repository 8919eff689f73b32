package keys

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for key lifecycle operations.
type Metrics struct {
	Rotations   *prometheus.CounterVec
	SelfHeals   prometheus.Counter
	Expirations prometheus.Counter
	Purges      prometheus.Counter
	Lookups     *prometheus.CounterVec
}

// NewMetrics registers key metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rotations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_key_rotations_total",
			Help: "Key rotations by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		SelfHeals: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_key_self_heals_total",
			Help: "Active keys generated because none existed",
		}),
		Expirations: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_key_expirations_total",
			Help: "Retired keys moved to expired",
		}),
		Purges: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_key_purges_total",
			Help: "Keys hard-deleted",
		}),
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_key_lookups_total",
			Help: "Key lookups by id, by source",
		}, []string{"source"}),
	}
}

func (m *Metrics) incRotation(trigger, outcome string) {
	if m != nil {
		m.Rotations.WithLabelValues(trigger, outcome).Inc()
	}
}

func (m *Metrics) incSelfHeal() {
	if m != nil {
		m.SelfHeals.Inc()
	}
}

func (m *Metrics) incExpiration() {
	if m != nil {
		m.Expirations.Inc()
	}
}

func (m *Metrics) incPurge() {
	if m != nil {
		m.Purges.Inc()
	}
}

func (m *Metrics) incLookup(source string) {
	if m != nil {
		m.Lookups.WithLabelValues(source).Inc()
	}
}
