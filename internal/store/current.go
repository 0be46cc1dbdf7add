package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// currentStore implements schemaStore against the current-generation
// conversations/messages relations.
type currentStore struct {
	db *DB
}

func (s *currentStore) UserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	// participant_ids is a JSON array; matching the quoted ID avoids
	// prefix collisions between user IDs.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, participant_ids, created_by, patient_id,
		       last_message, last_message_at, created_at, updated_at
		FROM conversations
		WHERE participant_ids LIKE '%"' || $1 || '"%'
		ORDER BY last_message_at DESC, updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (s *currentStore) DirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, participant_ids, created_by, patient_id,
		       last_message, last_message_at, created_at, updated_at
		FROM conversations
		WHERE kind = 'direct' AND direct_key = $1`, DirectKey(userA, userB))
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *currentStore) Conversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, participant_ids, created_by, patient_id,
		       last_message, last_message_at, created_at, updated_at
		FROM conversations
		WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *currentStore) CreateConversation(ctx context.Context, c *Conversation) error {
	participants, err := json.Marshal(c.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	var directKey sql.NullString
	if c.Kind == ConversationDirect {
		directKey = sql.NullString{String: DirectKey(c.ParticipantIDs[0], c.ParticipantIDs[1]), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, kind, name, participant_ids, direct_key, created_by, patient_id,
			 last_message, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', 0, $8, $9)`,
		c.ID, string(c.Kind), c.Name, string(participants), directKey,
		c.CreatedBy, c.PatientID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *currentStore) InsertMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, message_type, created_at, is_deleted)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Kind), m.CreatedAt)
	return err
}

func (s *currentStore) UpdatePreview(ctx context.Context, conversationID, preview string, at int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = $1, last_message_at = $2, updated_at = $2
		WHERE id = $3`, preview, at, conversationID)
	return err
}

func (s *currentStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, content, message_type, created_at, is_deleted
		FROM messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var kind string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &kind, &m.CreatedAt, &m.Deleted); err != nil {
			return nil, err
		}
		m.Kind = MessageKind(kind)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *currentStore) SoftDeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET is_deleted = TRUE WHERE id = $1`, id)
	return err
}

// scanConversation reads one current-generation row into the shared shape.
func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var kind, participants string
	if err := row.Scan(&c.ID, &kind, &c.Name, &participants, &c.CreatedBy, &c.PatientID,
		&c.LastMessage, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Kind = ConversationKind(kind)
	var ids []string
	if err := json.Unmarshal([]byte(participants), &ids); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	c.ParticipantIDs = sortedIDs(ids)
	return &c, nil
}
