package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveFailed stores a retryable failed send, replacing an earlier failure of
// the same message.
func (db *DB) SaveFailed(mctx model.MessageContext, evt model.Event, reason string) error {
	blob, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO failed_messages (message_id, context, event, reason, failed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			event = excluded.event,
			reason = excluded.reason,
			failed_at = excluded.failed_at`,
		evt.MessageID(), mctx.String(), blob, reason, time.Now().UnixMilli())
	return err
}

// GetFailed returns a failed send by message id, or nil if there is none.
func (db *DB) GetFailed(messageID string) (*FailedMessage, error) {
	var (
		f    FailedMessage
		mctx string
		blob []byte
	)
	err := db.QueryRow(`
		SELECT message_id, context, event, reason, failed_at
		FROM failed_messages WHERE message_id = ?`, messageID).
		Scan(&f.MessageID, &mctx, &blob, &f.Reason, &f.FailedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if f.Context, err = model.ParseMessageContext(mctx); err != nil {
		return nil, fmt.Errorf("failed message %s: %w", messageID, err)
	}
	if f.Event, err = decodeEvent(blob); err != nil {
		return nil, fmt.Errorf("failed message %s: %w", messageID, err)
	}
	return &f, nil
}

// ListFailed returns the failed sends of a context, oldest first.
func (db *DB) ListFailed(mctx model.MessageContext) ([]FailedMessage, error) {
	rows, err := db.Query(`
		SELECT message_id, event, reason, failed_at
		FROM failed_messages WHERE context = ? ORDER BY failed_at ASC`, mctx.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []FailedMessage
	for rows.Next() {
		f := FailedMessage{Context: mctx}
		var blob []byte
		if err := rows.Scan(&f.MessageID, &blob, &f.Reason, &f.FailedAt); err != nil {
			return nil, err
		}
		if f.Event, err = decodeEvent(blob); err != nil {
			return nil, fmt.Errorf("failed message %s: %w", f.MessageID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFailed removes a failed send. It reports whether a row was removed.
func (db *DB) DeleteFailed(messageID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM failed_messages WHERE message_id = ?`, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
