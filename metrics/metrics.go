// Package metrics exposes Prometheus collectors for the table server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wricardo/dungeondweller/game/room"
)

const namespace = "dungeondweller"

// Metrics implements room.Observer and serves its own registry.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rooms       prometheus.Gauge
	members     prometheus.Gauge
	connections prometheus.Gauge
	sessions    prometheus.Gauge
	httpLatency *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "events_total",
			Help:      "Room events processed by the coordinator.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "send_dropped_total",
			Help:      "Outbound frames dropped because a queue was full.",
		}, []string{"event"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "rooms",
			Help:      "Rooms held in memory, including empty ones.",
		}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "members",
			Help:      "Joined members across all rooms.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "room",
			Name:      "connections",
			Help:      "Connections joined to a room.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Registered table sessions.",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
	}

	m.registry.MustRegister(
		m.events, m.dropped, m.rooms, m.members, m.connections, m.sessions, m.httpLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EventHandled(event string) {
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) SendDropped(event string) {
	m.dropped.WithLabelValues(event).Inc()
}

func (m *Metrics) StateChanged(st room.Stats) {
	m.rooms.Set(float64(st.Rooms))
	m.members.Set(float64(st.Members))
	m.connections.Set(float64(st.Connections))
}

// SetSessions records the size of the session registry.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request latency by status code and method.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.httpLatency, next)
}
