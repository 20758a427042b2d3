// Package metrics defines the Prometheus collectors exported by the presence
// relay on its /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gochat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gochat_connections_active",
			Help: "WebSocket connections currently attached to the hub",
		},
	)

	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gochat_users_online",
			Help: "Identities currently held in the presence directory",
		},
	)

	// Protocol metrics
	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_envelopes_received_total",
			Help: "Inbound envelopes by type",
		},
		[]string{"type"}, // register, private_message, typing, get_online_users, ping, unknown, malformed
	)

	PrivateMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gochat_private_messages_total",
			Help: "Private messages recorded, by delivery outcome",
		},
		[]string{"outcome"}, // "delivered" or "offline"
	)

	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gochat_send_failures_total",
			Help: "Outbound envelopes dropped because a connection was closed or its buffer was full",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gochat_rate_limited_total",
			Help: "Inbound envelopes discarded by the per-connection rate limiter",
		},
	)

	// Reaper metrics
	ReaperProbes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gochat_reaper_probes_total",
			Help: "Ping probes sent to stale but connected identities",
		},
	)

	ReaperEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gochat_reaper_evictions_total",
			Help: "Stale identities evicted by the reaper",
		},
	)
)
