package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

type loadKind int

const (
	loadInitial loadKind = iota
	loadPrevious
	loadNew
)

func (k loadKind) String() string {
	switch k {
	case loadInitial:
		return "initial"
	case loadPrevious:
		return "previous"
	default:
		return "new"
	}
}

type loadKey struct {
	ctx  model.MessageContext
	kind loadKind
}

type flight struct {
	done chan struct{}
	err  error
}

// LoadInitial opens mctx: it fetches the latest page and replaces whatever
// was resident. An already active context is brought up to date instead.
func (e *Engine) LoadInitial(ctx context.Context, mctx model.MessageContext) error {
	return e.load(ctx, mctx, loadInitial)
}

// LoadPrevious fetches the page before the earliest resident event.
func (e *Engine) LoadPrevious(ctx context.Context, mctx model.MessageContext) error {
	return e.load(ctx, mctx, loadPrevious)
}

// LoadNew fetches events after the highest resident event.
func (e *Engine) LoadNew(ctx context.Context, mctx model.MessageContext) error {
	return e.load(ctx, mctx, loadNew)
}

// load coalesces identical concurrent loads: callers that arrive while one
// is in flight wait for it and share its result.
func (e *Engine) load(ctx context.Context, mctx model.MessageContext, kind loadKind) error {
	key := loadKey{ctx: mctx, kind: kind}
	e.lockMu.Lock()
	if f, ok := e.flights[key]; ok {
		e.lockMu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	e.flights[key] = f
	e.lockMu.Unlock()

	e.inflight.Add(1)
	f.err = e.runLoad(ctx, mctx, kind)
	e.inflight.Add(-1)

	e.lockMu.Lock()
	delete(e.flights, key)
	e.lockMu.Unlock()
	close(f.done)
	return f.err
}

// contextLock serializes fetch-and-merge per context. Other contexts are
// never blocked by it.
func (e *Engine) contextLock(mctx model.MessageContext) *stdsync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	l, ok := e.ctxLocks[mctx]
	if !ok {
		l = new(stdsync.Mutex)
		e.ctxLocks[mctx] = l
	}
	return l
}

func (e *Engine) runLoad(ctx context.Context, mctx model.MessageContext, kind loadKind) error {
	l := e.contextLock(mctx)
	l.Lock()
	defer l.Unlock()

	req, reset, ok := e.criteria(mctx, kind)
	if !ok {
		return nil
	}
	page, err := e.backend.FetchEvents(ctx, req)
	if err != nil {
		if !errors.Is(err, backend.ErrEventsFailed) {
			err = fmt.Errorf("%w: %v", backend.ErrEventsFailed, err)
		}
		e.logger.Debug("fetch failed", zap.Stringer("context", mctx), zap.Stringer("kind", kind), zap.Error(err))
		return fmt.Errorf("load %s %s: %w", kind, mctx, err)
	}
	if page == nil {
		return nil
	}

	events := e.rehydrate(ctx, mctx, page.Events)
	e.Merge(mctx, Page{Events: events, Expired: page.ExpiredRanges}, reset)
	return nil
}

// criteria computes the next fetch for mctx. ok is false when there is
// nothing to fetch: an empty conversation, the start of history, or an
// up-to-date timeline.
func (e *Engine) criteria(mctx model.MessageContext, kind loadKind) (req backend.FetchRequest, reset, ok bool) {
	sum, hasSum := e.summaries.Get(mctx.Chat)
	latest := -1
	if !mctx.IsThread() && hasSum {
		if sum.Empty() {
			return req, false, false
		}
		latest = sum.LatestEventIndex
	}
	req = backend.FetchRequest{
		Context:           mctx,
		IndexRange:        model.Range{Lo: 0, Hi: latest},
		MaxEvents:         e.opts.PageSize,
		LatestKnownUpdate: sum.LastUpdated,
	}

	if !e.tracker.Active(mctx) {
		req.StartIndex = latest
		req.Ascending = false
		return req, true, true
	}

	switch kind {
	case loadPrevious:
		earliest, _ := e.tracker.Earliest(mctx)
		start := earliest - 1
		for _, r := range e.tracker.Expired(mctx) {
			if r.Contains(start) {
				start = r.Lo - 1
			}
		}
		if start < 0 {
			return req, false, false
		}
		req.StartIndex = start
		req.Ascending = false
	default:
		highest, _ := e.tracker.Highest(mctx)
		start := highest + 1
		if latest >= 0 && start > latest {
			return req, false, false
		}
		req.StartIndex = start
		req.Ascending = true
	}
	return req, false, true
}

// rehydrate replaces partial message events with their full form. A failed
// rehydration keeps the partial event.
func (e *Engine) rehydrate(ctx context.Context, mctx model.MessageContext, events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, evt := range events {
		out[i] = evt
		if !evt.IsMessage() || !evt.Message.Partial {
			continue
		}
		full, err := e.backend.RehydrateMessage(ctx, mctx, evt)
		if err != nil {
			e.logger.Debug("rehydrate failed", zap.Stringer("context", mctx), zap.Int("index", evt.Index), zap.Error(err))
			continue
		}
		out[i] = full
	}
	return out
}
