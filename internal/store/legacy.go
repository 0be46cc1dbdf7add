package store

import (
	"context"
	"database/sql"
	"fmt"
)

// legacyStore implements schemaStore against the first-generation
// rooms/room_members/room_messages relations still backing older
// deployments. It maps every row into the current-generation shape so
// callers cannot tell the two apart.
type legacyStore struct {
	db *DB
}

func (s *legacyStore) UserConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.room_type, r.title, r.created_by, r.patient_ref,
		       r.last_msg, r.last_msg_at, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.user_id = $1
		ORDER BY r.last_msg_at DESC, r.updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		members, err := s.members(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].ParticipantIDs = members
	}
	return convs, nil
}

func (s *legacyStore) DirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.room_type, r.title, r.created_by, r.patient_ref,
		       r.last_msg, r.last_msg_at, r.created_at, r.updated_at
		FROM rooms r
		JOIN room_members ma ON ma.room_id = r.id AND ma.user_id = $1
		JOIN room_members mb ON mb.room_id = r.id AND mb.user_id = $2
		WHERE r.room_type = 'direct'`, userA, userB)
	c, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ParticipantIDs, err = s.members(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *legacyStore) Conversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.room_type, r.title, r.created_by, r.patient_ref,
		       r.last_msg, r.last_msg_at, r.created_at, r.updated_at
		FROM rooms r
		WHERE r.id = $1`, id)
	c, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ParticipantIDs, err = s.members(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *legacyStore) CreateConversation(ctx context.Context, c *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, room_type, title, created_by, patient_ref,
			last_msg, last_msg_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, '', 0, $6, $7)`,
		c.ID, string(c.Kind), c.Name, c.CreatedBy, c.PatientID, c.CreatedAt, c.UpdatedAt); err != nil {
		return err
	}
	for _, userID := range c.ParticipantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`,
			c.ID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *legacyStore) InsertMessage(ctx context.Context, m *Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_messages (id, room_id, author_id, body, kind, sent_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, string(m.Kind), m.CreatedAt)
	return err
}

func (s *legacyStore) UpdatePreview(ctx context.Context, conversationID, preview string, at int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET last_msg = $1, last_msg_at = $2, updated_at = $2
		WHERE id = $3`, preview, at, conversationID)
	return err
}

func (s *legacyStore) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, author_id, body, kind, sent_at, deleted
		FROM room_messages
		WHERE room_id = $1 AND NOT deleted
		ORDER BY sent_at ASC, id ASC`, conversationID)
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

func (s *legacyStore) SoftDeleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE room_messages SET deleted = TRUE WHERE id = $1`, id)
	return err
}

func (s *legacyStore) members(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanRoom reads one legacy room row into the shared shape. Participants
// are filled in by the caller.
func scanRoom(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var kind string
	if err := row.Scan(&c.ID, &kind, &c.Name, &c.CreatedBy, &c.PatientID,
		&c.LastMessage, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Kind = ConversationKind(kind)
	return &c, nil
}
