// Package metrics exposes prometheus collectors for the realtime engine.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors.
type Metrics struct {
	connections    prometheus.Gauge
	reachableUsers prometheus.Gauge
	events         *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	jobs           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatd",
			Name:      "connections",
			Help:      "Live websocket connections held by the registry.",
		}),
		reachableUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatd",
			Name:      "reachable_users",
			Help:      "Users with at least one live connection.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatd",
			Name:      "events_total",
			Help:      "Inbound events by tag and handler result code.",
		}, []string{"event", "code"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatd",
			Name:      "deliveries_total",
			Help:      "Outbound per-connection send attempts by result.",
		}, []string{"result"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatd",
			Name:      "fanout_jobs_total",
			Help:      "Detached fan-out jobs by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.reachableUsers, m.events, m.deliveries, m.jobs)
	}
	return m
}

// SetOccupancy records the registry size.
func (m *Metrics) SetOccupancy(connections, users int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(connections))
	m.reachableUsers.Set(float64(users))
}

// Event counts one dispatched inbound event.
func (m *Metrics) Event(event, code string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, code).Inc()
}

// Delivery counts one per-connection send attempt.
func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
		return
	}
	m.deliveries.WithLabelValues("dropped").Inc()
}

// Job counts one detached job outcome: "ok", "failed" or "rejected".
func (m *Metrics) Job(result string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(result).Inc()
}
