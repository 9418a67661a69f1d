// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_http_requests_total",
		Help: "HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatsync_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_ws_connections",
		Help: "Currently open websocket connections.",
	})

	WSEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_ws_events_total",
		Help: "Websocket events broadcast, by type.",
	}, []string{"type"})

	MessagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_stored_total",
		Help: "Messages accepted and persisted.",
	})
)
