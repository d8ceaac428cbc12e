package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qzman_ws_connections",
		Help: "Number of live websocket connections.",
	})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qzman_broadcasts_total",
		Help: "Broadcast messages fanned out to rooms, by message type.",
	}, []string{"type"})

	DroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qzman_dropped_messages_total",
		Help: "Droppable messages shed from slow connection queues.",
	})

	EvictedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qzman_evicted_connections_total",
		Help: "Connections disconnected for falling behind on critical messages.",
	})

	LedgerAppends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qzman_ledger_appends_total",
		Help: "Score entries durably appended to the ledger.",
	})
)
