package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments controllers. A nil *Metrics is a no-op.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	StaleResponses  *prometheus.CounterVec
	ExternalChanges *prometheus.CounterVec
	Repairs         prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions.",
		}, []string{"from", "to"}),
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "session",
			Name:      "attempts_total",
			Help:      "Login and invitation attempts by outcome.",
		}, []string{"op", "result"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "session",
			Name:      "stale_responses_total",
			Help:      "Identity API responses discarded because a newer request superseded them.",
		}, []string{"op"}),
		ExternalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "session",
			Name:      "external_changes_total",
			Help:      "Storage changes from other tabs by effect.",
		}, []string{"effect"}),
		Repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aqualens",
			Subsystem: "session",
			Name:      "repairs_total",
			Help:      "Half-written session pairs cleared at startup.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transitions, m.Attempts, m.StaleResponses, m.ExternalChanges, m.Repairs)
	}
	return m
}

func (m *Metrics) transition(from, to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from.Name(), to.Name()).Inc()
}

func (m *Metrics) attempt(op, result string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(op, result).Inc()
}

func (m *Metrics) stale(op string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(op).Inc()
}

func (m *Metrics) external(effect string) {
	if m == nil {
		return
	}
	m.ExternalChanges.WithLabelValues(effect).Inc()
}

func (m *Metrics) repair() {
	if m == nil {
		return
	}
	m.Repairs.Inc()
}
