// Package metrics defines the prometheus collectors the networking core
// exposes. A *Metrics value is constructed with an explicit Registerer —
// never the global default registry — and injected into the components
// that need it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the networking core updates.
type Metrics struct {
	ProtocolViolations prometheus.Counter
	BroadcastDrops     *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	ConnectedPeers     prometheus.Gauge
}

// New constructs and registers the networking core's collectors against
// reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProtocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "papyrus",
			Subsystem: "network",
			Name:      "protocol_violations_total",
			Help:      "Number of SQMR sessions terminated by a protocol violation.",
		}),
		BroadcastDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papyrus",
			Subsystem: "network",
			Name:      "broadcast_queue_drops_total",
			Help:      "Number of gossip messages dropped from a subscriber's bounded queue.",
		}, []string{"topic"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "papyrus",
			Subsystem: "network",
			Name:      "active_sqmr_sessions",
			Help:      "Number of SQMR sessions currently open.",
		}),
		ConnectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "papyrus",
			Subsystem: "network",
			Name:      "connected_peers",
			Help:      "Number of peers currently in the Connected state.",
		}),
	}
	reg.MustRegister(m.ProtocolViolations, m.BroadcastDrops, m.ActiveSessions, m.ConnectedPeers)
	return m
}

// NewUnregistered returns a Metrics whose collectors are registered only
// with a fresh private registry (never a shared one), for use in tests that
// only want to read counter values directly.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
