package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the relay. A nil *Metrics is a no-op.
type Metrics struct {
	Connections prometheus.Gauge
	Relayed     prometheus.Counter
	Evicted     prometheus.Counter
	Rejected    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "aqualens",
			Subsystem: "sync",
			Name:      "connections",
			Help:      "Tabs currently joined to the sync relay.",
		}),
		Relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "sync",
			Name:      "relayed_total",
			Help:      "Storage changes fanned out to tabs (one per recipient).",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "sync",
			Name:      "evicted_total",
			Help:      "Tabs disconnected because their send queue was full.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "sync",
			Name:      "rejected_total",
			Help:      "Connections refused or closed by policy.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Relayed, m.Evicted, m.Rejected)
	}
	return m
}

func (m *Metrics) joined(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *Metrics) relayed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Relayed.Add(float64(n))
}

func (m *Metrics) evicted() {
	if m == nil {
		return
	}
	m.Evicted.Inc()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}
