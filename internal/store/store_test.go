package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testCtx = model.Main(model.ChatID{Kind: model.Group, ID: "g1"})

func textEvent(id string, idx int, body string) model.Event {
	return model.Event{
		Index:     idx,
		Timestamp: 1000,
		Kind:      model.KindMessage,
		Message:   &model.Message{Index: idx, ID: id, Sender: "me", Content: model.Text(body)},
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

// TestMigrateSchemaHasRequiredColumns verifies the migration creates every
// column the pipeline and primer write to.
func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"log send", "INSERT INTO send_log (message_id, context, event, state) VALUES (?, ?, ?, ?)", []any{"m1", "group:g1", []byte("{}"), "unconfirmed"}},
		{"record send time", "INSERT INTO send_history (sent_at) VALUES (?)", []any{1000}},
		{"save failed", "INSERT INTO failed_messages (message_id, context, event, reason, failed_at) VALUES (?, ?, ?, ?, ?)", []any{"m2", "group:g1", []byte("{}"), "x", 1000}},
		{"set primed", "INSERT INTO primed_chats (chat, primed_at) VALUES (?, ?)", []any{"group:g1", 1000}},
		{"set read position", "INSERT INTO read_positions (chat, message_index) VALUES (?, ?)", []any{"group:g1", 3}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestSendLog(t *testing.T) {
	db := testDB(t)

	evt := textEvent("m1", 10, "hello")
	if err := db.RecordSend(testCtx, evt, "unconfirmed"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkSendConfirmed("m1", "confirmed", 12); err != nil {
		t.Fatal(err)
	}

	rec, err := db.GetSend("m1")
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("send not logged")
	}
	if rec.State != "confirmed" || rec.EventIndex != 12 {
		t.Errorf("state = %s index = %d, want confirmed 12", rec.State, rec.EventIndex)
	}
	if rec.Context != testCtx {
		t.Errorf("context = %v, want %v", rec.Context, testCtx)
	}
	if rec.Event.Message == nil || rec.Event.Message.Content.Text != "hello" {
		t.Errorf("event not round-tripped: %+v", rec.Event)
	}

	// A retry resets the row instead of adding a second one.
	if err := db.RecordSend(testCtx, textEvent("m1", 14, "hello"), "unconfirmed"); err != nil {
		t.Fatal(err)
	}
	sends, err := db.ListSends(testCtx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sends) != 1 {
		t.Fatalf("got %d sends, want 1", len(sends))
	}
	if sends[0].EventIndex != -1 || sends[0].Event.Index != 14 {
		t.Errorf("retry row = %+v, want reset with provisional index 14", sends[0])
	}

	missing, err := db.GetSend("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for unknown message")
	}
}

func TestThrottleWindow(t *testing.T) {
	db := testDB(t)
	now := time.UnixMilli(100_000)

	for _, ago := range []time.Duration{90 * time.Second, 50 * time.Second, 10 * time.Second} {
		if err := db.RecordSendAt(now.Add(-ago)); err != nil {
			t.Fatal(err)
		}
	}

	sends, err := db.SendsSince(now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(sends) != 2 {
		t.Fatalf("got %d sends in window, want 2", len(sends))
	}
	if !sends[0].Equal(now.Add(-50 * time.Second)) {
		t.Errorf("oldest = %v, want %v", sends[0], now.Add(-50*time.Second))
	}

	n, err := db.PruneSendsBefore(now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestFailedMessages(t *testing.T) {
	db := testDB(t)

	if err := db.SaveFailed(testCtx, textEvent("m1", 10, "one"), "internal_error"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveFailed(testCtx, textEvent("m2", 11, "two"), "content_filtered"); err != nil {
		t.Fatal(err)
	}

	failed, err := db.ListFailed(testCtx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 {
		t.Fatalf("got %d failed, want 2", len(failed))
	}

	f, err := db.GetFailed("m2")
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || f.Reason != "content_filtered" || f.Event.Message.Content.Text != "two" {
		t.Errorf("GetFailed(m2) = %+v", f)
	}

	removed, err := db.DeleteFailed("m1")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("DeleteFailed(m1) = false, want true")
	}
	removed, err = db.DeleteFailed("m1")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("second DeleteFailed(m1) = true, want false")
	}
}

func TestPrimedOnlyMovesForward(t *testing.T) {
	db := testDB(t)
	chat := model.ChatID{Kind: model.Direct, ID: "alice"}

	if err := db.SetPrimed(chat, 500); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPrimed(chat, 300); err != nil {
		t.Fatal(err)
	}

	primed, err := db.PrimedAt()
	if err != nil {
		t.Fatal(err)
	}
	if primed[chat] != 500 {
		t.Errorf("primed_at = %d, want 500", primed[chat])
	}

	if err := db.ClearPrimed(); err != nil {
		t.Fatal(err)
	}
	primed, err = db.PrimedAt()
	if err != nil {
		t.Fatal(err)
	}
	if len(primed) != 0 {
		t.Errorf("got %d primed after clear, want 0", len(primed))
	}
}

func TestReadPositionNeverMovesBack(t *testing.T) {
	db := testDB(t)
	chat := testCtx.Chat

	for _, idx := range []int{4, 9, 2} {
		if err := db.SetReadPosition(chat, idx); err != nil {
			t.Fatal(err)
		}
	}
	pos, err := db.ReadPositions()
	if err != nil {
		t.Fatal(err)
	}
	if pos[chat] != 9 {
		t.Errorf("read position = %d, want 9", pos[chat])
	}
}
