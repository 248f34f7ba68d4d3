package sync

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// Reconciler manages sync checkpoints: the server timestamp of the last
// applied updates delta and when it was applied.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := r.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value. A missing key yields "".
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SaveUpdates records the server timestamp of the last applied delta.
func (r *Reconciler) SaveUpdates(ts int64) error {
	return r.UpdateCheckpoint(checkpointUpdates, strconv.FormatInt(ts, 10))
}

// LastUpdates returns the last recorded delta timestamp and when it was
// stored. ok is false when no delta has been applied yet.
func (r *Reconciler) LastUpdates() (ts int64, at time.Time, ok bool, err error) {
	var (
		value   string
		updated int64
	)
	err = r.db.QueryRow(`SELECT value, updated_at FROM sync_state WHERE key = ?`, checkpointUpdates).Scan(&value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	ts, err = strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return ts, time.UnixMilli(updated), true, nil
}
