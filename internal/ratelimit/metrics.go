package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the limiter's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	checks  *prometheus.CounterVec
	active  prometheus.Gauge
	evicted prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rendergate",
			Subsystem: "ratelimit",
			Name:      "checks_total",
			Help:      "Rate limit checks by limit class and outcome.",
		}, []string{"class", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rendergate",
			Subsystem: "ratelimit",
			Name:      "active_counters",
			Help:      "Counters held after the last sweep.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rendergate",
			Subsystem: "ratelimit",
			Name:      "evicted_counters_total",
			Help:      "Expired counters removed by the sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.checks, m.active, m.evicted)
	}
	return m
}

func (m *Metrics) observeCheck(class Class, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.checks.WithLabelValues(string(class), outcome).Inc()
}

func (m *Metrics) observeSweep(removed, active int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(removed))
	m.active.Set(float64(active))
}
