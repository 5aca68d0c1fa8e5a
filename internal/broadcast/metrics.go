package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Published       *prometheus.CounterVec
	PublishFailures prometheus.Counter
	DroppedSessions prometheus.Counter
	Sessions        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "course_messaging",
			Subsystem: "broadcast",
			Name:      "events_published_total",
			Help:      "Events handed to course subscribers, by event kind.",
		}, []string{"event"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "course_messaging",
			Subsystem: "broadcast",
			Name:      "publish_failures_total",
			Help:      "Events that could not be handed to the relay.",
		}),
		DroppedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "course_messaging",
			Subsystem: "broadcast",
			Name:      "dropped_sessions_total",
			Help:      "Sessions disconnected because their send buffer was full.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "course_messaging",
			Subsystem: "broadcast",
			Name:      "sessions",
			Help:      "Connected websocket sessions.",
		}),
	}

	reg.MustRegister(m.Published, m.PublishFailures, m.DroppedSessions, m.Sessions)
	return m
}
