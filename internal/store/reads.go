package store

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// SetReadPosition advances the local read position of chat. It never moves
// backwards.
func (db *DB) SetReadPosition(chat model.ChatID, messageIndex int) error {
	_, err := db.Exec(`
		INSERT INTO read_positions (chat, message_index, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat) DO UPDATE SET
			message_index = MAX(read_positions.message_index, excluded.message_index),
			updated_at = excluded.updated_at`,
		chat.String(), messageIndex, time.Now().UnixMilli())
	return err
}

// ReadPositions returns every stored read position.
func (db *DB) ReadPositions() (map[model.ChatID]int, error) {
	rows, err := db.Query(`SELECT chat, message_index FROM read_positions`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.ChatID]int)
	for rows.Next() {
		var (
			raw string
			idx int
		)
		if err := rows.Scan(&raw, &idx); err != nil {
			return nil, err
		}
		id, err := model.ParseChatID(raw)
		if err != nil {
			continue
		}
		out[id] = idx
	}
	return out, rows.Err()
}
