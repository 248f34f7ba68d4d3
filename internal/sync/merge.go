package sync

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/ranges"
	"go.uber.org/zap"
)

// Page is a batch of fetched events plus the ranges the server reports as
// evicted upstream.
type Page struct {
	Events  []model.Event
	Expired []model.Range
}

// span returns the index interval covered by events and expired ranges.
func (p Page) span() (lo, hi int, ok bool) {
	for _, evt := range p.Events {
		if !ok {
			lo, hi, ok = evt.Index, evt.Index, true
			continue
		}
		lo, hi = min(lo, evt.Index), max(hi, evt.Index)
	}
	for _, r := range p.Expired {
		if r.Len() == 0 {
			continue
		}
		if !ok {
			lo, hi, ok = r.Lo, r.Hi, true
			continue
		}
		lo, hi = min(lo, r.Lo), max(hi, r.Hi)
	}
	return lo, hi, ok
}

// Merge folds a page into the timeline of mctx. With reset, whatever was
// loaded for mctx is discarded first and the page starts a fresh view.
// Otherwise the page must be contiguous with the loaded coverage; a page
// that would leave a hole is dropped whole and nothing changes.
func (e *Engine) Merge(mctx model.MessageContext, page Page, reset bool) ranges.Verdict {
	lo, hi, ok := page.span()
	if !ok {
		return ranges.Accept
	}

	verdict := ranges.AcceptReset
	if reset {
		e.resetContext(mctx)
	} else {
		verdict = e.tracker.Contiguous(mctx, lo, hi)
	}
	if !verdict.Accepted() {
		e.logger.Warn("dropping non-contiguous page",
			zap.Stringer("context", mctx),
			zap.Int("lo", lo), zap.Int("hi", hi),
			zap.Any("loaded", e.tracker.Loaded(mctx)))
		return verdict
	}

	// Last write wins per index, both within the page and against what
	// is already resident.
	byIndex := make(map[int]model.Event, len(page.Events))
	for _, evt := range page.Events {
		byIndex[evt.Index] = evt.Clone()
	}
	indices := make([]int, 0, len(byIndex))
	for idx := range byIndex {
		indices = append(indices, idx)
	}
	slices.Sort(indices)

	e.mu.Lock()
	tl := e.timelineLocked(mctx)
	for _, idx := range indices {
		tl.events[idx] = byIndex[idx]
	}
	for _, r := range page.Expired {
		for idx := range tl.events {
			if r.Contains(idx) {
				delete(tl.events, idx)
			}
		}
	}
	e.mu.Unlock()

	if len(indices) > 0 {
		e.tracker.MarkLoaded(mctx, indices[0], indices[len(indices)-1])
	}
	for _, r := range page.Expired {
		e.tracker.MarkExpired(mctx, r.Lo, r.Hi)
	}

	var latest *model.Event
	for _, idx := range indices {
		evt := byIndex[idx]
		if !evt.IsMessage() {
			continue
		}
		if e.queue.Delete(mctx, evt.Message.ID) && evt.Message.Sender == e.opts.UserID && !mctx.IsThread() {
			e.MarkRead(mctx.Chat, evt.Message.Index)
		}
		if latest == nil || evt.Message.Index > latest.Message.Index {
			latest = &evt
		}
	}

	if latest != nil && !mctx.IsThread() {
		e.advanceSummary(mctx.Chat, *latest)
	}
	e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx})
	return verdict
}

// advanceSummary records evt as the chat's latest message when it is newer
// than the cached one.
func (e *Engine) advanceSummary(chat model.ChatID, evt model.Event) {
	advanced := false
	e.summaries.Update(chat, func(cur model.ChatSummary, ok bool) model.ChatSummary {
		if !ok {
			cur = model.ChatSummary{ID: chat, LatestEventIndex: -1, LatestMessageIndex: -1, ReadUpTo: -1}
		}
		if evt.Message.Index <= cur.LatestMessageIndex {
			return cur
		}
		latest := evt.Clone()
		cur.LatestMessage = &latest
		cur.LatestMessageIndex = evt.Message.Index
		cur.LatestEventIndex = max(cur.LatestEventIndex, evt.Index)
		advanced = true
		return cur
	})
	if advanced {
		e.bus.Emit(bus.ChatSummaryUpdated, bus.ChatUpdate{Context: model.Main(chat)})
	}
}

func (e *Engine) timelineLocked(mctx model.MessageContext) *timeline {
	tl, ok := e.timelines[mctx]
	if !ok {
		tl = &timeline{events: make(map[int]model.Event)}
		e.timelines[mctx] = tl
	}
	return tl
}

// resetContext forgets every resident event of mctx.
func (e *Engine) resetContext(mctx model.MessageContext) {
	e.mu.Lock()
	delete(e.timelines, mctx)
	e.mu.Unlock()
	e.tracker.Reset(mctx)
}

// Confirm folds the server-confirmed copy of a locally sent event. An open
// context merges it like any fetched page; a context that is not resident
// only drops the unconfirmed entry and advances the summary, so a later
// initial load still starts from the latest page. A rejected verdict leaves
// the unconfirmed entry in place until a poll brings the gap in. It waits
// for any load of mctx in flight, like a fetched page would.
func (e *Engine) Confirm(mctx model.MessageContext, evt model.Event) ranges.Verdict {
	l := e.contextLock(mctx)
	l.Lock()
	defer l.Unlock()

	if e.tracker.Active(mctx) {
		return e.Merge(mctx, Page{Events: []model.Event{evt}}, false)
	}
	if !evt.IsMessage() {
		return ranges.Accept
	}
	e.queue.Delete(mctx, evt.Message.ID)
	if !mctx.IsThread() {
		e.advanceSummary(mctx.Chat, evt)
		if evt.Message.Sender == e.opts.UserID {
			e.MarkRead(mctx.Chat, evt.Message.Index)
		}
	}
	e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx})
	return ranges.Accept
}
