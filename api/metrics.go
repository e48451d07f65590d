package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the real-time layer. Registered on the default
// registry and exposed via /metrics.
var (
	metricLiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatd_websocket_connections",
		Help: "Number of live WebSocket connections",
	})

	metricFramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_frames_received_total",
		Help: "Inbound frames by type (invalid frames counted under type=invalid)",
	}, []string{"type"})

	metricBroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_broadcast_failures_total",
		Help: "Connections pruned after a failed delivery",
	})

	metricMessagesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatd_messages_persisted_total",
		Help: "Messages written to the store by role",
	}, []string{"role"})

	metricResponderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatd_responder_failures_total",
		Help: "Response generations that timed out or errored and fell back to the apology message",
	})
)
