package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics holds the relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections *prometheus.GaugeVec
	handshakes  *prometheus.CounterVec
	forwarded   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	evictions   prometheus.Counter
	assignments prometheus.Counter
	latency     prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open connections by role.",
		}, []string{"role"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Handshakes by result.",
		}, []string{"result"}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_messages_total",
			Help:      "Messages relayed between peers by direction.",
		}, []string{"direction"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages_total",
			Help:      "Messages dropped by reason.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_evictions_total",
			Help:      "Connections closed for exceeding the heartbeat grace period.",
		}),
		assignments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_assignments_total",
			Help:      "Clients assigned to a worker.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ping_latency_seconds",
			Help:      "Round trip time between a ping and its pong.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}

	reg.MustRegister(
		m.connections,
		m.handshakes,
		m.forwarded,
		m.dropped,
		m.evictions,
		m.assignments,
		m.latency,
	)

	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ConnOpened records a newly accepted, not yet handshaken connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("unassigned").Inc()
}

// RoleAssigned moves a connection from unassigned to role.
func (m *Metrics) RoleAssigned(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("unassigned").Dec()
	m.connections.WithLabelValues(role).Inc()
	m.handshakes.WithLabelValues("accepted").Inc()
}

// HandshakeRejected records a handshake that closed its connection.
func (m *Metrics) HandshakeRejected() {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues("rejected").Inc()
}

// ConnClosed records a closed connection that held role.
func (m *Metrics) ConnClosed(role string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(role).Dec()
}

// Forwarded records one relayed message.
func (m *Metrics) Forwarded(direction string) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(direction).Inc()
}

// Dropped records one dropped message.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// Evicted records a heartbeat eviction.
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// WorkerAssigned records a client gaining a worker.
func (m *Metrics) WorkerAssigned() {
	if m == nil {
		return
	}
	m.assignments.Inc()
}

// ObserveLatency records a ping round trip.
func (m *Metrics) ObserveLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}
