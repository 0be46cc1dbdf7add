package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinivo/messaging/internal/metrics"
)

// schemaStore is the contract both schema generations implement. The
// adapter picks one implementation at runtime and callers never see the
// difference.
type schemaStore interface {
	UserConversations(ctx context.Context, userID string) ([]Conversation, error)
	DirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	Conversation(ctx context.Context, id string) (*Conversation, error)
	CreateConversation(ctx context.Context, c *Conversation) error
	InsertMessage(ctx context.Context, m *Message) error
	UpdatePreview(ctx context.Context, conversationID, preview string, at int64) error
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error
}

// Adapter presents one stable read/write contract for conversations and
// messages while the backing store may be in either of two schema
// generations. The first call probes the current generation; a
// missing-relation error switches to the legacy implementation, and the
// decision sticks for the adapter's lifetime, so current-only deployments
// pay at most one failed probe and legacy-only deployments run without
// any migration.
type Adapter struct {
	db     *DB
	logger *zap.Logger

	current *currentStore
	legacy  *legacyStore

	mu       sync.Mutex
	resolved schemaStore
}

// NewAdapter creates an adapter over the given connection.
func NewAdapter(db *DB, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		db:      db,
		logger:  logger,
		current: &currentStore{db: db},
		legacy:  &legacyStore{db: db},
	}
}

// run executes op against the resolved generation, probing on first use.
func (a *Adapter) run(op func(schemaStore) error) error {
	a.mu.Lock()
	s := a.resolved
	a.mu.Unlock()
	if s != nil {
		return op(s)
	}

	err := op(a.current)
	if err == nil {
		a.lock(a.current)
		return nil
	}
	if IsMissingRelation(err) {
		a.logger.Warn("current-generation relations missing, switching to legacy schema", zap.Error(err))
		metrics.SchemaFallbacks.Inc()
		if err := op(a.legacy); err != nil {
			return err
		}
		a.lock(a.legacy)
		return nil
	}
	return err
}

func (a *Adapter) lock(s schemaStore) {
	a.mu.Lock()
	if a.resolved == nil {
		a.resolved = s
	}
	a.mu.Unlock()
}

// GetUserConversations returns every conversation the user participates in,
// most recently active first.
func (a *Adapter) GetUserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	var out []Conversation
	err := a.run(func(s schemaStore) error {
		var err error
		out, err = s.UserConversations(ctx, userID)
		return err
	})
	return out, err
}

// GetConversation returns one conversation by ID, or nil when absent.
func (a *Adapter) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var out *Conversation
	err := a.run(func(s schemaStore) error {
		var err error
		out, err = s.Conversation(ctx, id)
		return err
	})
	return out, err
}

// GetOrCreateDirectConversation looks up the direct conversation for an
// unordered participant pair, creating it when absent. Safe to call
// concurrently by both participants: an apparent miss is re-queried before
// creating, and a uniqueness conflict on create means the other side won
// the race, so the winner's row is returned.
func (a *Adapter) GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("both participant ids are required")
	}
	if userA == userB {
		return nil, fmt.Errorf("direct conversation requires two distinct participants")
	}

	lookup := func() (*Conversation, error) {
		var c *Conversation
		err := a.run(func(s schemaStore) error {
			var err error
			c, err = s.DirectConversation(ctx, userA, userB)
			return err
		})
		return c, err
	}

	if c, err := lookup(); err != nil || c != nil {
		return c, err
	}
	// The first miss is not authoritative under race.
	if c, err := lookup(); err != nil || c != nil {
		return c, err
	}

	now := time.Now().UnixMilli()
	conv := &Conversation{
		ID:             uuid.NewString(),
		Kind:           ConversationDirect,
		ParticipantIDs: sortedIDs([]string{userA, userB}),
		CreatedBy:      userA,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := a.run(func(s schemaStore) error {
		return s.CreateConversation(ctx, conv)
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return lookup()
		}
		return nil, err
	}
	return conv, nil
}

// CreateConversation persists a group or patient_case conversation,
// filling in the identifier and timestamps.
func (a *Adapter) CreateConversation(ctx context.Context, kind ConversationKind, name, createdBy string, participantIDs []string, patientID string) (*Conversation, error) {
	now := time.Now().UnixMilli()
	conv := &Conversation{
		ID:             uuid.NewString(),
		Kind:           kind,
		Name:           name,
		ParticipantIDs: sortedIDs(participantIDs),
		CreatedBy:      createdBy,
		PatientID:      patientID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := a.run(func(s schemaStore) error {
		return s.CreateConversation(ctx, conv)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// SendMessage durably writes a new message, then updates the
// conversation's denormalized preview.
func (a *Adapter) SendMessage(ctx context.Context, conversationID, senderID, content string, kind MessageKind) (*Message, error) {
	if kind == "" {
		kind = MessageText
	}
	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := a.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SaveMessage durably writes a prebuilt message, then updates the
// conversation's denormalized preview. The two writes are deliberately not
// atomic: a crash in between leaves a stale preview, never a lost message.
func (a *Adapter) SaveMessage(ctx context.Context, msg *Message) error {
	err := a.run(func(s schemaStore) error {
		return s.InsertMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := a.run(func(s schemaStore) error {
		return s.UpdatePreview(ctx, msg.ConversationID, truncate(msg.Content, 100), msg.CreatedAt)
	}); err != nil {
		a.logger.Warn("preview update failed, message is durable",
			zap.Error(err), zap.String("conversation_id", msg.ConversationID))
	}
	return nil
}

// GetMessages returns the conversation's messages oldest first, ordered by
// (created_at, id), with soft-deleted rows filtered out.
func (a *Adapter) GetMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var out []Message
	err := a.run(func(s schemaStore) error {
		var err error
		out, err = s.Messages(ctx, conversationID)
		return err
	})
	return out, err
}

// SoftDeleteMessage flags a message as deleted. The row is never removed.
func (a *Adapter) SoftDeleteMessage(ctx context.Context, id string) error {
	return a.run(func(s schemaStore) error {
		return s.SoftDeleteMessage(ctx, id)
	})
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
