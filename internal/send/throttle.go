package send

import (
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/store"
)

// ThrottleConfig bounds how many messages the local user may send within a
// sliding window.
type ThrottleConfig struct {
	Window      time.Duration
	StandardCap int
	PremiumCap  int
}

// DefaultThrottle mirrors the config defaults.
var DefaultThrottle = ThrottleConfig{
	Window:      60 * time.Second,
	StandardCap: 10,
	PremiumCap:  30,
}

// Throttle is a sliding window over persisted send timestamps, so the
// window survives a restart.
type Throttle struct {
	db  *store.DB
	cfg ThrottleConfig
}

// NewThrottle creates a throttle backed by db.
func NewThrottle(db *store.DB, cfg ThrottleConfig) *Throttle {
	if cfg.Window <= 0 {
		cfg.Window = DefaultThrottle.Window
	}
	if cfg.StandardCap <= 0 {
		cfg.StandardCap = DefaultThrottle.StandardCap
	}
	if cfg.PremiumCap <= 0 {
		cfg.PremiumCap = DefaultThrottle.PremiumCap
	}
	return &Throttle{db: db, cfg: cfg}
}

// Cap returns the per-window limit for the plan.
func (t *Throttle) Cap(premium bool) int {
	if premium {
		return t.cfg.PremiumCap
	}
	return t.cfg.StandardCap
}

// Check reports whether one more send fits in the window ending at now.
// When it does not, retryAt is the moment the oldest counted send leaves
// the window.
func (t *Throttle) Check(now time.Time, premium bool) (retryAt time.Time, ok bool, err error) {
	sent, err := t.db.SendsSince(now.Add(-t.cfg.Window))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read send window: %w", err)
	}
	limit := t.Cap(premium)
	if len(sent) < limit {
		return time.Time{}, true, nil
	}
	return sent[len(sent)-limit].Add(t.cfg.Window), false, nil
}

// Record counts a send at now and drops timestamps that left the window.
func (t *Throttle) Record(now time.Time) error {
	if err := t.db.RecordSendAt(now); err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	if _, err := t.db.PruneSendsBefore(now.Add(-t.cfg.Window)); err != nil {
		return fmt.Errorf("prune send window: %w", err)
	}
	return nil
}
