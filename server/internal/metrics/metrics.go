// Package metrics provides Prometheus instrumentation for shoplens-server.
//
// Every method is safe to call on a nil *Metrics, so components built in
// tests without a registry need no special casing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shoplens"

// Metrics holds all Prometheus collectors for the server.
type Metrics struct {
	reg *prometheus.Registry

	// Socket metrics
	ActiveConnections prometheus.Gauge
	TotalConnections  prometheus.Counter
	RejectedUpgrades  *prometheus.CounterVec

	// Frame metrics
	FramesReceived  *prometheus.CounterVec
	MalformedFrames prometheus.Counter
	FramesSent      *prometheus.CounterVec
	SendFailures    *prometheus.CounterVec

	// Fan-out metrics
	Broadcasts       *prometheus.CounterVec
	BroadcastTargets prometheus.Histogram

	// Ingest metrics
	EventsIngested *prometheus.CounterVec
	AlertsFired    *prometheus.CounterVec
}

// New creates a Metrics instance registered on a fresh registry together
// with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Number of currently registered dashboard sockets",
		}),
		TotalConnections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections_total",
			Help:      "Total number of dashboard sockets registered",
		}),
		RejectedUpgrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "rejected_upgrades_total",
			Help:      "Upgrade attempts refused by the gateway",
		}, []string{"reason"}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_received_total",
			Help:      "Inbound control frames by message type",
		}, []string{"type"}),
		MalformedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "malformed_frames_total",
			Help:      "Inbound frames discarded because they were not a JSON object",
		}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued for delivery",
		}, []string{"kind"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "send_failures_total",
			Help:      "Outbound frames dropped for a recipient",
		}, []string{"reason"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "broadcasts_total",
			Help:      "Broadcast calls by targeting mode",
		}, []string{"target"}),
		BroadcastTargets: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "broadcast_recipients",
			Help:      "Recipients per broadcast call",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}),
		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Analytics events accepted for fan-out",
		}, []string{"table", "transport"}),
		AlertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Alert state transitions",
		}, []string{"rule", "state"}),
	}
}

// Registry returns the underlying registry, for Gather in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ConnectionOpened records a registration.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
	m.TotalConnections.Inc()
}

// ConnectionClosed records an unregistration.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// UpgradeRejected records a refused upgrade.
func (m *Metrics) UpgradeRejected(reason string) {
	if m == nil {
		return
	}
	m.RejectedUpgrades.WithLabelValues(reason).Inc()
}

// FrameReceived records a parsed inbound frame of the given type.
func (m *Metrics) FrameReceived(typ string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(typ).Inc()
}

// FrameMalformed records a discarded inbound frame.
func (m *Metrics) FrameMalformed() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

// FrameSent records n queued outbound frames; kind is reply or broadcast.
func (m *Metrics) FrameSent(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FramesSent.WithLabelValues(kind).Add(float64(n))
}

// SendFailed records a dropped outbound frame.
func (m *Metrics) SendFailed(reason string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(reason).Inc()
}

// Broadcast records one broadcast call and its recipient count.
func (m *Metrics) Broadcast(target string, recipients int) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(target).Inc()
	m.BroadcastTargets.Observe(float64(recipients))
}

// EventIngested records an accepted analytics event.
func (m *Metrics) EventIngested(table, transport string) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(table, transport).Inc()
}

// AlertTransition records an alert firing or resolving.
func (m *Metrics) AlertTransition(rule, state string) {
	if m == nil {
		return
	}
	m.AlertsFired.WithLabelValues(rule, state).Inc()
}
