package store

import (
	"sort"
	"strings"
)

// ConversationKind classifies a conversation.
type ConversationKind string

const (
	ConversationDirect      ConversationKind = "direct"
	ConversationGroup       ConversationKind = "group"
	ConversationPatientCase ConversationKind = "patient_case"
)

// MessageKind classifies a message payload.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// Conversation is a channel grouping a fixed set of participants and an
// ordered message history. Both schema generations map onto this shape;
// ParticipantIDs are always returned sorted so the two paths produce
// identical records.
type Conversation struct {
	ID             string
	Kind           ConversationKind
	Name           string
	ParticipantIDs []string
	CreatedBy      string
	// PatientID links a patient_case conversation to an external patient
	// record. Empty otherwise.
	PatientID     string
	LastMessage   string
	LastMessageAt int64
	CreatedAt     int64
	UpdatedAt     int64
}

// Message is one entry in a conversation. Messages are immutable once
// created except for the soft-delete flag.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Kind           MessageKind
	CreatedAt      int64
	Deleted        bool
}

// DirectKey normalizes an unordered participant pair into the unique key
// enforcing at most one direct conversation per pair.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

func sortedIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
