package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const checkpointUpdates = "updates.timestamp"

// Poll runs one get-updates cycle: it applies changed summaries, brings
// every active main timeline of a changed chat up to date and prunes
// expired overlays. A failed cycle leaves local state untouched.
func (e *Engine) Poll(ctx context.Context) error {
	e.mu.RLock()
	since := e.lastUpdate
	e.mu.RUnlock()

	upd, err := e.backend.GetUpdates(ctx, backend.UpdatesRequest{Initial: since == 0, Since: since})
	if err != nil {
		if e.env == nil || !e.env.State().Offline {
			_ = e.status.Settle(status.Degraded)
		}
		return fmt.Errorf("get updates: %w", err)
	}

	var errs error
	for _, chat := range e.ApplyUpdates(upd) {
		mctx := model.Main(chat)
		if !e.tracker.Active(mctx) {
			continue
		}
		errs = multierr.Append(errs, e.LoadNew(ctx, mctx))
	}
	if n := e.Prune(); n > 0 {
		e.logger.Debug("pruned stale local state", zap.Int("count", n))
	}
	if err := e.status.Settle(status.Ready); err != nil {
		e.logger.Debug("status not settled", zap.Error(err))
	}
	return errs
}

// ApplyUpdates stores the summaries of an updates delta and returns the
// chats whose timeline may have moved.
func (e *Engine) ApplyUpdates(upd *backend.Updates) []model.ChatID {
	if upd == nil {
		return nil
	}
	var changed []model.ChatID
	for _, s := range upd.Chats {
		prev, had := e.summaries.Get(s.ID)
		if had && prev.LatestMessageIndex > s.LatestMessageIndex {
			// A confirmed message merged locally is newer than this delta.
			s.LatestMessage = prev.LatestMessage
			s.LatestMessageIndex = prev.LatestMessageIndex
			s.LatestEventIndex = max(s.LatestEventIndex, prev.LatestEventIndex)
		}
		e.summaries.Set(s.ID, s)
		if !had || prev.LastUpdated != s.LastUpdated || prev.LatestEventIndex != s.LatestEventIndex {
			changed = append(changed, s.ID)
		}
		e.bus.Emit(bus.ChatSummaryUpdated, bus.ChatUpdate{Context: model.Main(s.ID)})
	}
	for _, id := range upd.Removed {
		e.summaries.Delete(id)
		l := e.contextLock(model.Main(id))
		l.Lock()
		e.resetContext(model.Main(id))
		l.Unlock()
		e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: model.Main(id)})
	}

	e.mu.Lock()
	e.lastUpdate = max(e.lastUpdate, upd.Timestamp)
	e.lastSynced = time.Now()
	ts := e.lastUpdate
	e.mu.Unlock()

	if e.recon != nil {
		if err := e.recon.SaveUpdates(ts); err != nil {
			e.logger.Error("failed to store updates checkpoint", zap.Error(err))
		}
	}
	return changed
}
