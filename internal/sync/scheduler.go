package sync

import (
	"context"

	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/poller"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

const updatesJob = "updates"

func chatJob(mctx model.MessageContext) string {
	return "chat:" + mctx.String()
}

// Start restores persisted state and starts the get-updates poller. Status
// follows the environment's connectivity from here on.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Restore(); err != nil {
		return err
	}
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	if e.env != nil {
		e.envUnsub = e.env.Subscribe(e.onEnv)
		if e.env.State().Offline {
			_ = e.status.Settle(status.Offline)
		}
	}
	if e.status.Current() == status.Booting {
		_ = e.status.Settle(status.Syncing)
	}

	e.pollers.Ensure(ctx, updatesJob, func() *poller.Poller {
		return poller.New(updatesJob, e.Poll, poller.Config{
			Interval:           e.opts.Intervals.Updates,
			BackgroundInterval: e.opts.Intervals.UpdatesIdle,
			Immediate:          true,
		}, e.env, e.logger, e.pollerOpts()...)
	})
	e.logger.Info("sync engine started")
	return nil
}

// Open keeps mctx fresh: the first run loads the latest page, later runs
// fetch what is new. Opening an already open context is a no-op.
func (e *Engine) Open(mctx model.MessageContext) {
	e.mu.RLock()
	ctx := e.runCtx
	e.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	task := func(ctx context.Context) error {
		if !e.tracker.Active(mctx) {
			return e.LoadInitial(ctx, mctx)
		}
		return e.LoadNew(ctx, mctx)
	}
	e.pollers.Ensure(ctx, chatJob(mctx), func() *poller.Poller {
		return poller.New(chatJob(mctx), task, poller.Config{
			Interval:           e.opts.Intervals.Chat,
			BackgroundInterval: e.opts.Intervals.ChatIdle,
			Immediate:          true,
		}, e.env, e.logger, e.pollerOpts()...)
	})
}

// Close stops polling mctx. Its resident events stay cached.
func (e *Engine) Close(mctx model.MessageContext) {
	e.pollers.Remove(chatJob(mctx))
}

// Stop stops every poller.
func (e *Engine) Stop() {
	e.pollers.StopAll()
	if e.envUnsub != nil {
		e.envUnsub()
	}
	_ = e.status.Settle(status.Stopped)
	e.logger.Info("sync engine stopped")
}

func (e *Engine) pollerOpts() []poller.Option {
	if e.opts.Clock == nil {
		return nil
	}
	return []poller.Option{poller.WithClock(e.opts.Clock)}
}

func (e *Engine) onEnv(st env.State) {
	var err error
	switch {
	case st.Offline:
		err = e.status.Settle(status.Offline)
	case e.status.Current() == status.Offline:
		err = e.status.Settle(status.Syncing)
	}
	if err != nil {
		e.logger.Debug("status not settled", zap.Error(err))
	}
}
