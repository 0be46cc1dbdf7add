package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Message flow
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Messages durably written",
		},
		[]string{"kind"},
	)

	MessagesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_failed_total",
			Help: "Message sends that failed the durable write",
		},
	)

	NotificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_notifications_failed_total",
			Help: "Notification sink calls that failed (swallowed)",
		},
	)

	// Transport
	EventsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_feed_events_dispatched_total",
			Help: "Inbound feed events dispatched to subscribers",
		},
		[]string{"type"},
	)

	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_transport_reconnects_total",
			Help: "Reconnect attempts after an unclean close",
		},
	)

	FallbackEntered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_transport_fallback_total",
			Help: "Sessions degraded to polling mode",
		},
	)

	// Fallback polling
	PollCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_poll_cycles_total",
			Help: "Fallback poll cycles executed",
		},
	)

	// Persistence
	SchemaFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_store_schema_fallbacks_total",
			Help: "Adapter switches from the current to the legacy schema",
		},
	)
)
