package store

import "time"

// RecordSendAt appends a send timestamp to the throttle window.
func (db *DB) RecordSendAt(at time.Time) error {
	_, err := db.Exec(`INSERT INTO send_history (sent_at) VALUES (?)`, at.UnixMilli())
	return err
}

// SendsSince returns the send timestamps at or after since, oldest first.
func (db *DB) SendsSince(since time.Time) ([]time.Time, error) {
	rows, err := db.Query(`SELECT sent_at FROM send_history WHERE sent_at >= ? ORDER BY sent_at ASC`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, time.UnixMilli(ms))
	}
	return out, rows.Err()
}

// PruneSendsBefore drops timestamps that have left the window.
func (db *DB) PruneSendsBefore(before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM send_history WHERE sent_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
