package store

import "github.com/matheus3301/chatsync/internal/model"

// PrimedAt returns the last primed timestamp of every chat that has one.
func (db *DB) PrimedAt() (map[model.ChatID]int64, error) {
	rows, err := db.Query(`SELECT chat, primed_at FROM primed_chats`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.ChatID]int64)
	for rows.Next() {
		var (
			raw string
			ts  int64
		)
		if err := rows.Scan(&raw, &ts); err != nil {
			return nil, err
		}
		id, err := model.ParseChatID(raw)
		if err != nil {
			continue
		}
		out[id] = ts
	}
	return out, rows.Err()
}

// SetPrimed records that chat was primed as of lastUpdated. Timestamps only
// move forward.
func (db *DB) SetPrimed(chat model.ChatID, lastUpdated int64) error {
	_, err := db.Exec(`
		INSERT INTO primed_chats (chat, primed_at) VALUES (?, ?)
		ON CONFLICT(chat) DO UPDATE SET primed_at = MAX(primed_chats.primed_at, excluded.primed_at)`,
		chat.String(), lastUpdated)
	return err
}

// ClearPrimed forgets every primed timestamp so the next pass re-primes all chats.
func (db *DB) ClearPrimed() error {
	_, err := db.Exec(`DELETE FROM primed_chats`)
	return err
}
