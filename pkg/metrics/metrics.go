package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts counts transport connect requests by kind (local|wan) and result (requested|prompted|rejected).
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radiolink_connect_attempts_total",
			Help: "Total number of radio connection attempts",
		},
		[]string{"kind", "result"},
	)

	// Disconnects counts disconnections by cause (user|unexpected).
	Disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radiolink_disconnects_total",
			Help: "Total number of radio disconnections",
		},
		[]string{"cause"},
	)

	// ConflictPrompts counts occupancy prompts by resolution (close|take_over|multiplex|cancel|undefined).
	ConflictPrompts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radiolink_conflict_prompts_total",
			Help: "Total number of occupancy conflict decisions",
		},
		[]string{"resolution"},
	)

	// RelayLogins records relay authorization outcomes by mode (silent|interactive) and result.
	RelayLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radiolink_relay_logins_total",
			Help: "Total number of relay login attempts",
		},
		[]string{"mode", "result"},
	)

	// CatalogEndpoints tracks the number of endpoints currently discovered.
	CatalogEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radiolink_catalog_endpoints",
			Help: "Number of endpoints in the live catalog",
		},
	)

	// GatewayLinkUp is 1 while a gateway link is established.
	GatewayLinkUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radiolink_gateway_link_up",
			Help: "Whether the radio gateway link is established",
		},
	)

	// GatewayFrames counts gateway frames by direction (in|out) and type.
	GatewayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radiolink_gateway_frames_total",
			Help: "Total number of frames exchanged with the radio gateway",
		},
		[]string{"direction", "type"},
	)

	// StreamClients tracks connected snapshot stream clients.
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radiolink_stream_clients",
			Help: "Number of connected snapshot stream clients",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "radiolink_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
