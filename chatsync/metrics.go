package chatsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	duplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_duplicates_dropped_total",
			Help: "Messages rejected by the dedup set",
		},
	)

	bufferedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_buffered_events_total",
			Help: "Events buffered while a history fetch was in flight",
		},
	)

	reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnects_total",
			Help: "Transport connection losses that triggered a reconnect",
		},
	)

	invalidEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_invalid_events_total",
			Help: "Malformed transport events dropped",
		},
	)

	sendsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_sends_failed_total",
			Help: "Outbound sends that exhausted their retries",
		},
	)
)
