package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the hub connection collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	pushes   prometheus.Counter
	state    prometheus.Gauge
}

// NewMetrics creates and registers the hub collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notify",
			Subsystem: "hub",
			Name:      "connect_attempts_total",
			Help:      "Hub connection attempts by result.",
		}, []string{"result"}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "notify",
			Subsystem: "hub",
			Name:      "pushes_total",
			Help:      "Notifications received from the hub.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "notify",
			Subsystem: "hub",
			Name:      "connection_state",
			Help:      "Current connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=disconnecting).",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.pushes, m.state)
	}

	return m
}

func (m *Metrics) observeAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) observePush() {
	if m == nil {
		return
	}
	m.pushes.Inc()
}

func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
