package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the realtime gateway's Prometheus collectors.
type Metrics struct {
	Connections       prometheus.Gauge
	EventsTotal       *prometheus.CounterVec
	DroppedBroadcasts prometheus.Counter
	RejectedTotal     *prometheus.CounterVec
}

// NewMetrics registers the realtime collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bandroom",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Currently open websocket connections.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bandroom",
			Subsystem: "ws",
			Name:      "events_total",
			Help:      "Client events processed, by envelope type.",
		}, []string{"type"}),
		DroppedBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bandroom",
			Subsystem: "ws",
			Name:      "dropped_broadcasts_total",
			Help:      "Broadcast envelopes dropped due to full member queues.",
		}),
		RejectedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bandroom",
			Subsystem: "ws",
			Name:      "rejected_total",
			Help:      "Rejected websocket upgrades, by reason.",
		}, []string{"reason"}),
	}
}
