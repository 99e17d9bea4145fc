package bridge

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors updated by the registry and delivery policy.
type Metrics struct {
	sessions     prometheus.Gauge
	buffered     prometheus.Gauge
	delivered    *prometheus.CounterVec
	pushFailures prometheus.Counter
	dropped      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_sessions",
			Help: "Number of live bridge sessions.",
		}),
		buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_buffered_resources",
			Help: "External resources waiting in poll buffers.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_resources_delivered_total",
			Help: "External resources handed to the delivery policy, by mode.",
		}, []string{"mode"}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_push_failures_total",
			Help: "Push calls that failed; the resources are lost.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_buffer_dropped_total",
			Help: "Buffered resources dropped because a buffer was full.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.sessions, m.buffered, m.delivered, m.pushFailures, m.dropped)
	}
	return m
}
