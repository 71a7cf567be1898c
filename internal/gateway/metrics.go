package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarm",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Open websocket connections.",
	})

	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "swarm",
		Subsystem: "gateway",
		Name:      "rooms",
		Help:      "Rooms with at least one subscriber.",
	})

	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "gateway",
		Name:      "messages_sent_total",
		Help:      "Messages queued to client send buffers.",
	})

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "gateway",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped because a client buffer was full.",
	})

	batchFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swarm",
		Subsystem: "gateway",
		Name:      "batch_flushes_total",
		Help:      "Batch windows flushed to rooms.",
	})
)
