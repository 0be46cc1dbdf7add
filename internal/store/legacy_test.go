package store

import (
	"context"
	"reflect"
	"testing"
)

// TestLegacyOnlyDeploymentWorksWithoutMigration exercises the full adapter
// contract against a database that only has the first-generation rooms
// schema. Schema detection is by error classification, so no migration or
// stored flag is needed.
func TestLegacyOnlyDeploymentWorksWithoutMigration(t *testing.T) {
	a := NewAdapter(legacyDB(t), nil)
	ctx := context.Background()

	c, err := a.GetOrCreateDirectConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("get-or-create on legacy schema: %v", err)
	}
	if !reflect.DeepEqual(c.ParticipantIDs, []string{"alice", "bob"}) {
		t.Errorf("participants = %v, want [alice bob]", c.ParticipantIDs)
	}

	again, err := a.GetOrCreateDirectConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != c.ID {
		t.Errorf("got two conversations (%s, %s) for one pair", c.ID, again.ID)
	}

	msg, err := a.SendMessage(ctx, c.ID, "alice", "hello from the old schema", MessageText)
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := a.GetMessages(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID || msgs[0].Content != "hello from the old schema" {
		t.Errorf("messages = %+v", msgs)
	}

	convs, err := a.GetUserConversations(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].LastMessage != "hello from the old schema" {
		t.Errorf("preview = %q", convs[0].LastMessage)
	}

	if err := a.SoftDeleteMessage(ctx, msg.ID); err != nil {
		t.Fatal(err)
	}
	msgs, err = a.GetMessages(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages after soft delete, want 0", len(msgs))
	}
}

// TestSchemaDecisionIsSticky verifies the adapter probes the legacy path
// once and then stays on it, rather than re-failing the current-generation
// query per call.
func TestSchemaDecisionIsSticky(t *testing.T) {
	a := NewAdapter(legacyDB(t), nil)
	ctx := context.Background()

	if _, err := a.GetOrCreateDirectConversation(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	if a.resolved != schemaStore(a.legacy) {
		t.Fatalf("adapter did not lock onto the legacy store")
	}

	// Subsequent calls must not re-probe.
	if _, err := a.GetUserConversations(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
}

// TestCurrentDecisionIsSticky is the mirror: a current-generation database
// locks onto the current store after the first successful call.
func TestCurrentDecisionIsSticky(t *testing.T) {
	a := NewAdapter(testDB(t), nil)
	ctx := context.Background()

	if _, err := a.GetUserConversations(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if a.resolved != schemaStore(a.current) {
		t.Fatalf("adapter did not lock onto the current store")
	}
}

// TestRecordsEquivalentAcrossSchemas seeds identical data into both schema
// generations and asserts callers get byte-for-byte equal records back.
func TestRecordsEquivalentAcrossSchemas(t *testing.T) {
	ctx := context.Background()

	currentDB := testDB(t)
	oldDB := legacyDB(t)

	if _, err := currentDB.Exec(`
		INSERT INTO conversations (id, kind, name, participant_ids, direct_key, created_by, patient_id,
			last_message, last_message_at, created_at, updated_at)
		VALUES ('conv-1', 'patient_case', 'case 7', '["dr-a","dr-b"]', NULL, 'dr-a', 'patient-7',
			'latest', 5000, 1000, 5000)`); err != nil {
		t.Fatal(err)
	}
	if _, err := oldDB.Exec(`
		INSERT INTO rooms (id, room_type, title, created_by, patient_ref, last_msg, last_msg_at, created_at, updated_at)
		VALUES ('conv-1', 'patient_case', 'case 7', 'dr-a', 'patient-7', 'latest', 5000, 1000, 5000)`); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"dr-a", "dr-b"} {
		if _, err := oldDB.Exec(`INSERT INTO room_members (room_id, user_id) VALUES ('conv-1', $1)`, u); err != nil {
			t.Fatal(err)
		}
	}

	for _, db := range []*DB{currentDB, oldDB} {
		seedMessage := `
			INSERT INTO messages (id, conversation_id, sender_id, content, message_type, created_at, is_deleted)
			VALUES ('msg-1', 'conv-1', 'dr-a', 'latest', 'text', 5000, FALSE)`
		if db == oldDB {
			seedMessage = `
			INSERT INTO room_messages (id, room_id, author_id, body, kind, sent_at, deleted)
			VALUES ('msg-1', 'conv-1', 'dr-a', 'latest', 'text', 5000, FALSE)`
		}
		if _, err := db.Exec(seedMessage); err != nil {
			t.Fatal(err)
		}
	}

	currentAdapter := NewAdapter(currentDB, nil)
	legacyAdapter := NewAdapter(oldDB, nil)

	fromCurrent, err := currentAdapter.GetUserConversations(ctx, "dr-b")
	if err != nil {
		t.Fatal(err)
	}
	fromLegacy, err := legacyAdapter.GetUserConversations(ctx, "dr-b")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fromCurrent, fromLegacy) {
		t.Errorf("conversation records differ across schemas:\ncurrent: %+v\nlegacy:  %+v", fromCurrent, fromLegacy)
	}

	msgsCurrent, err := currentAdapter.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	msgsLegacy, err := legacyAdapter.GetMessages(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(msgsCurrent, msgsLegacy) {
		t.Errorf("message records differ across schemas:\ncurrent: %+v\nlegacy:  %+v", msgsCurrent, msgsLegacy)
	}
}
