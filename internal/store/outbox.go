package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// RecordSend inserts a send log row for a message entering the pipeline. A
// retry of the same message id resets the existing row.
func (db *DB) RecordSend(mctx model.MessageContext, evt model.Event, state string) error {
	blob, err := encodeEvent(evt)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO send_log (message_id, context, event, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			event = excluded.event,
			state = excluded.state,
			error_message = '',
			event_index = -1,
			updated_at = excluded.updated_at`,
		evt.MessageID(), mctx.String(), blob, state, now, now)
	return err
}

// MarkSendState updates the pipeline state of a logged send.
func (db *DB) MarkSendState(messageID, state string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE send_log SET state = ?, updated_at = ? WHERE message_id = ?`, state, now, messageID)
	return err
}

// MarkSendConfirmed records the server-assigned event index.
func (db *DB) MarkSendConfirmed(messageID, state string, eventIndex int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE send_log SET state = ?, event_index = ?, updated_at = ? WHERE message_id = ?`, state, eventIndex, now, messageID)
	return err
}

// MarkSendFailed records the failure reason.
func (db *DB) MarkSendFailed(messageID, state, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE send_log SET state = ?, error_message = ?, updated_at = ? WHERE message_id = ?`, state, errMsg, now, messageID)
	return err
}

// GetSend returns the send log row for a message id, or nil if unknown.
func (db *DB) GetSend(messageID string) (*SendRecord, error) {
	row := db.QueryRow(`
		SELECT id, message_id, context, event, state, error_message, event_index, created_at, updated_at
		FROM send_log WHERE message_id = ?`, messageID)
	rec, err := scanSend(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListSends returns the send log of a context, oldest first.
func (db *DB) ListSends(mctx model.MessageContext) ([]SendRecord, error) {
	rows, err := db.Query(`
		SELECT id, message_id, context, event, state, error_message, event_index, created_at, updated_at
		FROM send_log WHERE context = ? ORDER BY created_at ASC, id ASC`, mctx.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SendRecord
	for rows.Next() {
		rec, err := scanSend(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSend(s scanner) (*SendRecord, error) {
	var (
		rec  SendRecord
		mctx string
		blob []byte
	)
	if err := s.Scan(&rec.ID, &rec.MessageID, &mctx, &blob, &rec.State, &rec.ErrorMessage, &rec.EventIndex, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Context, err = model.ParseMessageContext(mctx); err != nil {
		return nil, fmt.Errorf("send %s: %w", rec.MessageID, err)
	}
	if rec.Event, err = decodeEvent(blob); err != nil {
		return nil, fmt.Errorf("send %s: %w", rec.MessageID, err)
	}
	return &rec, nil
}
