package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the messaging core. Subscribers filter by
// namespace prefix, e.g. "message." receives every message event.
const (
	// KindStatusChanged carries a status.Change payload.
	KindStatusChanged = "transport.status_changed"

	// KindMessageLocal carries an optimistic, not yet durable message.
	KindMessageLocal = "message.local"
	// KindMessagePushed carries a message delivered over the live feed.
	KindMessagePushed = "message.pushed"
	// KindMessagePolled carries a batch of messages fetched by the
	// fallback poller.
	KindMessagePolled = "message.polled"
	// KindMessageSent confirms the durable write of a local message.
	KindMessageSent = "message.sent"
	// KindMessageRetracted withdraws an optimistic message whose durable
	// write failed.
	KindMessageRetracted = "message.retracted"

	// KindConversationUpdated signals a conversation list change.
	KindConversationUpdated = "conversation.updated"
)
