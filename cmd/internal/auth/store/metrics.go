package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts storage failures per operation. A nil *Metrics is a no-op.
type Metrics struct {
	Failures *prometheus.CounterVec
}

// NewMetrics creates and registers the store collectors on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "session_store",
			Name:      "failures_total",
			Help:      "Session storage operations that failed and were swallowed.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.Failures)
	}
	return m
}

func (m *Metrics) failure(op string) {
	if m == nil || m.Failures == nil {
		return
	}
	m.Failures.WithLabelValues(op).Inc()
}
