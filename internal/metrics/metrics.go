// Package metrics exposes Prometheus collectors for the event stream client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconnect reasons.
const (
	ReasonClosed    = "closed"
	ReasonHeartbeat = "heartbeat"
)

// Metrics groups the client collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connected  prometheus.Gauge
	connects   prometheus.Counter
	reconnects *prometheus.CounterVec
	delivered  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "opencode_events_connected",
			Help: "Whether the event stream is live (1) or not (0).",
		}),
		connects: f.NewCounter(prometheus.CounterOpts{
			Name: "opencode_events_connects_total",
			Help: "Connections that reached the live phase.",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opencode_events_reconnects_total",
			Help: "Connections torn down for reconnection, by reason.",
		}, []string{"reason"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "opencode_events_delivered_total",
			Help: "Events delivered to listeners, by kind.",
		}, []string{"kind"}),
	}
}

// SetConnected records the connection flag.
func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// Connect counts a connection that went live.
func (m *Metrics) Connect() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

// Reconnect counts a teardown for the given reason.
func (m *Metrics) Reconnect(reason string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

// Delivered counts one listener invocation for kind.
func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(kind).Inc()
}
