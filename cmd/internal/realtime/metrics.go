package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ripple",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Currently open websocket sessions.",
	})

	metricPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "realtime",
		Name:      "publish_total",
		Help:      "Envelopes published to the fanout hub.",
	})

	metricDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "realtime",
		Name:      "deliveries_total",
		Help:      "Envelopes delivered to subscriber queues.",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ripple",
		Subsystem: "realtime",
		Name:      "dropped_total",
		Help:      "Envelopes dropped because a subscriber queue was full.",
	})
)
