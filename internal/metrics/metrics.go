package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections tracks open registry connections per scope.
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxvoice_registry_connections",
			Help: "Open duplex connections",
		},
		[]string{"scope"},
	)

	// Broadcasts counts roster and track_closed fan-outs by command.
	Broadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxvoice_registry_broadcasts_total",
			Help: "Registry broadcasts by command",
		},
		[]string{"command"},
	)

	// DroppedFrames counts frames refused by a slow or closed connection.
	DroppedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxvoice_registry_dropped_frames_total",
			Help: "Frames that could not be queued to a connection",
		},
	)

	// InvalidMessages counts inbound messages dropped by validation.
	InvalidMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxvoice_registry_invalid_messages_total",
			Help: "Inbound duplex messages dropped as invalid",
		},
	)

	// Rehydrations counts registries rebuilt from attachments.
	Rehydrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxvoice_registry_rehydrations_total",
			Help: "Registries rebuilt from stored attachments",
		},
	)

	// RelayLatency measures relay round-trips by operation and outcome (ok|rejected|error).
	RelayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxvoice_relay_latency_seconds",
			Help:    "Relay call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxvoice_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// Subscriptions tracks the client engine's live remote tracks.
	Subscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxvoice_engine_subscriptions",
			Help: "Remote tracks held by the reconciliation engine",
		},
	)

	// Evictions counts subscriptions dropped by the engine, by reason (left|closed|idle|failed|stalled).
	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxvoice_engine_evictions_total",
			Help: "Subscriptions dropped by the reconciliation engine",
		},
		[]string{"reason"},
	)
)
