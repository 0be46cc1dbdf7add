package transport

import "encoding/json"

// Event is the JSON wire format of the live feed. Subscribe and
// unsubscribe events scope delivery to a conversation; every other type is
// a payload event delivered only to subscribers of the matching
// conversation.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Data           json.RawMessage `json:"data,omitempty"`
	SenderID       string          `json:"senderId,omitempty"`
	Timestamp      int64           `json:"timestamp,omitempty"`
}

// Feed event types.
const (
	EventNewMessage  = "new_message"
	EventTyping      = "typing"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// Handler is invoked for every inbound payload event addressed to a
// subscribed conversation.
type Handler func(Event)
