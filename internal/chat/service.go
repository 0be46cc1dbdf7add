package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/bus"
	"github.com/clinivo/messaging/internal/identity"
	"github.com/clinivo/messaging/internal/metrics"
	"github.com/clinivo/messaging/internal/notify"
	"github.com/clinivo/messaging/internal/store"
	"github.com/clinivo/messaging/internal/transport"
)

// Store is the persistence surface the service depends on.
type Store interface {
	GetUserConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, kind store.ConversationKind, name, createdBy string, participantIDs []string, patientID string) (*store.Conversation, error)
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error
}

// Transport is the live feed surface the service depends on.
type Transport interface {
	Subscribe(conversationID string, h transport.Handler) func()
	Send(evt transport.Event)
	IsFallback() bool
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Push(n notify.Notification)
}

// WireMessage is the message shape broadcast on the live feed.
type WireMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	CreatedAt      int64  `json:"createdAt"`
}

// Retraction is the bus payload withdrawing an optimistic message whose
// durable write failed.
type Retraction struct {
	ConversationID string
	MessageID      string
}

// Service orchestrates the send and delivery paths. A send is optimistic:
// the message is announced locally and broadcast on the feed before the
// durable write, and retracted if the write fails. Notification delivery
// never blocks or fails a send.
type Service struct {
	store     Store
	transport Transport
	notifier  Notifier
	directory identity.Directory
	bus       *bus.Bus
	logger    *zap.Logger

	mu      sync.Mutex
	watched map[string]func()
}

// NewService wires the orchestrator. Notifier and directory may be nil
// when the deployment has no notification or identity endpoint.
func NewService(st Store, tr Transport, n Notifier, dir identity.Directory, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     st,
		transport: tr,
		notifier:  n,
		directory: dir,
		bus:       b,
		logger:    logger,
		watched:   make(map[string]func()),
	}
}

// SendMessage sends one message: optimistic local append, best-effort feed
// broadcast, durable write, then fire-and-forget notification. Only the
// durable write can fail the call; failure retracts the optimistic entry.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string, kind store.MessageKind) (*store.Message, error) {
	if conversationID == "" || senderID == "" {
		return nil, fmt.Errorf("conversation and sender ids are required")
	}
	if kind == "" {
		kind = store.MessageText
	}

	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      time.Now().UnixMilli(),
	}

	s.publish(bus.KindMessageLocal, *msg)
	s.broadcast(msg)

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		metrics.MessagesFailed.Inc()
		s.publish(bus.KindMessageRetracted, Retraction{
			ConversationID: conversationID,
			MessageID:      msg.ID,
		})
		return nil, fmt.Errorf("durable write: %w", err)
	}

	metrics.MessagesSent.WithLabelValues(string(kind)).Inc()
	s.publish(bus.KindMessageSent, *msg)
	go s.notifyRecipients(msg)
	return msg, nil
}

func (s *Service) broadcast(msg *store.Message) {
	data, err := json.Marshal(WireMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		MessageType:    string(msg.Kind),
		CreatedAt:      msg.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("broadcast encode failed", zap.Error(err))
		return
	}
	s.transport.Send(transport.Event{
		Type:           transport.EventNewMessage,
		ConversationID: msg.ConversationID,
		Data:           data,
		SenderID:       msg.SenderID,
		Timestamp:      msg.CreatedAt,
	})
}

// notifyRecipients resolves display attributes and posts the notification.
// Runs detached from the send; every failure here is swallowed.
func (s *Service) notifyRecipients(msg *store.Message) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := s.store.GetConversation(ctx, msg.ConversationID)
	if err != nil || conv == nil {
		s.logger.Warn("notification skipped, conversation lookup failed",
			zap.Error(err), zap.String("conversation_id", msg.ConversationID))
		return
	}

	var recipients []string
	for _, id := range conv.ParticipantIDs {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}

	senderName := msg.SenderID
	if s.directory != nil {
		if p, err := s.directory.Lookup(ctx, msg.SenderID); err == nil {
			senderName = p.Name
		}
	}
	title := conv.Name
	if title == "" {
		title = senderName
	}

	s.notifier.Push(notify.Notification{
		Type:    "chat_message",
		Title:   title,
		Message: msg.Content,
		Metadata: notify.Metadata{
			ConversationID:   conv.ID,
			ConversationName: conv.Name,
			SenderID:         msg.SenderID,
			SenderName:       senderName,
			Timestamp:        msg.CreatedAt,
		},
		RecipientIDs: recipients,
	})
}

// GetOrCreateDirectConversation resolves the single conversation for an
// unordered participant pair.
func (s *Service) GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	return s.store.GetOrCreateDirectConversation(ctx, userA, userB)
}

// CreateGroupConversation creates a named group. The creator is always a
// participant.
func (s *Service) CreateGroupConversation(ctx context.Context, name, createdBy string, participantIDs []string) (*store.Conversation, error) {
	if err := validateParticipants(createdBy, participantIDs); err != nil {
		return nil, err
	}
	return s.store.CreateConversation(ctx, store.ConversationGroup, name, createdBy, participantIDs, "")
}

// CreatePatientCaseConversation creates a conversation anchored to a
// patient record.
func (s *Service) CreatePatientCaseConversation(ctx context.Context, name, createdBy string, participantIDs []string, patientID string) (*store.Conversation, error) {
	if err := validateParticipants(createdBy, participantIDs); err != nil {
		return nil, err
	}
	if patientID == "" {
		return nil, fmt.Errorf("patient id is required")
	}
	return s.store.CreateConversation(ctx, store.ConversationPatientCase, name, createdBy, participantIDs, patientID)
}

func validateParticipants(createdBy string, participantIDs []string) error {
	if createdBy == "" {
		return fmt.Errorf("creator id is required")
	}
	if len(participantIDs) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	for _, id := range participantIDs {
		if id == "" {
			return fmt.Errorf("participant ids must be non-empty")
		}
	}
	if !slices.Contains(participantIDs, createdBy) {
		return fmt.Errorf("creator must be a participant")
	}
	return nil
}

// ListConversations returns the user's conversations, most recently active
// first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	return s.store.GetUserConversations(ctx, userID)
}

// Messages returns the durable history of a conversation, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]store.Message, error) {
	return s.store.GetMessages(ctx, conversationID)
}

// DeleteMessage soft-deletes a message and announces the retraction so
// open timelines drop it.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := s.store.SoftDeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.publish(bus.KindMessageRetracted, Retraction{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	return nil
}

// Watch registers a conversation for live delivery: pushed feed events are
// translated to bus events, and the fallback poller includes it in its
// cycle. Watching is idempotent per conversation.
func (s *Service) Watch(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[conversationID]; ok {
		return
	}
	s.watched[conversationID] = s.transport.Subscribe(conversationID, s.onFeedEvent)
}

// Unwatch removes the conversation from live delivery and polling.
func (s *Service) Unwatch(conversationID string) {
	s.mu.Lock()
	unsub, ok := s.watched[conversationID]
	delete(s.watched, conversationID)
	s.mu.Unlock()
	if ok {
		unsub()
	}
}

// WatchedConversations returns the IDs currently registered for delivery.
func (s *Service) WatchedConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.watched))
	for id := range s.watched {
		ids = append(ids, id)
	}
	return ids
}

func (s *Service) onFeedEvent(evt transport.Event) {
	if evt.Type != transport.EventNewMessage {
		return
	}
	var wire WireMessage
	if err := json.Unmarshal(evt.Data, &wire); err != nil {
		s.logger.Warn("malformed feed message dropped", zap.Error(err))
		return
	}
	s.publish(bus.KindMessagePushed, store.Message{
		ID:             wire.ID,
		ConversationID: wire.ConversationID,
		SenderID:       wire.SenderID,
		Content:        wire.Content,
		Kind:           store.MessageKind(wire.MessageType),
		CreatedAt:      wire.CreatedAt,
	})
}

func (s *Service) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
