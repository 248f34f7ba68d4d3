package sync

import (
	"cmp"
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/unconfirmed"
)

// Item is one visible timeline entry.
type Item struct {
	Event     model.Event
	Confirmed bool
	Accepted  bool // unconfirmed entry acknowledged by the transport
	Peer      bool // unconfirmed entry asserted by a peer
}

// Timeline returns the merged view of mctx: confirmed events plus
// unconfirmed entries whose message id is not yet confirmed, with pending
// overlays applied. Items are ordered by event index; on equal index the
// confirmed event comes first.
func (e *Engine) Timeline(mctx model.MessageContext) []Item {
	e.mu.RLock()
	var items []Item
	confirmed := make(map[string]bool)
	if tl, ok := e.timelines[mctx]; ok {
		items = make([]Item, 0, len(tl.events))
		for _, evt := range tl.events {
			items = append(items, Item{Event: evt.Clone(), Confirmed: true})
			if id := evt.MessageID(); id != "" {
				confirmed[id] = true
			}
		}
	}
	e.mu.RUnlock()

	for _, entry := range e.queue.Entries(mctx) {
		if confirmed[entry.Event.MessageID()] {
			continue
		}
		items = append(items, Item{
			Event:    entry.Event,
			Accepted: entry.Accepted,
			Peer:     entry.Origin == unconfirmed.Peer,
		})
	}

	out := items[:0]
	for _, it := range items {
		if it.Event.IsMessage() {
			msg, visible := e.messages.Resolve(MessageKey{Context: mctx, MessageID: it.Event.Message.ID}, *it.Event.Message)
			if !visible {
				continue
			}
			it.Event.Message = &msg
		}
		out = append(out, it)
	}

	slices.SortStableFunc(out, func(a, b Item) int {
		if c := cmp.Compare(a.Event.Index, b.Event.Index); c != 0 {
			return c
		}
		switch {
		case a.Confirmed && !b.Confirmed:
			return -1
		case !a.Confirmed && b.Confirmed:
			return 1
		}
		return 0
	})
	return out
}

// Message returns the visible copy of a message addressed by id, confirmed
// or not.
func (e *Engine) Message(mctx model.MessageContext, messageID string) (model.Message, bool) {
	for _, it := range e.Timeline(mctx) {
		if it.Event.MessageID() == messageID {
			return *it.Event.Message, true
		}
	}
	return model.Message{}, false
}

// Summary returns the chat summary with pending overlays applied and the
// read position raised to the local one.
func (e *Engine) Summary(chat model.ChatID) (model.ChatSummary, bool) {
	sum, ok := e.summaries.Get(chat)
	if !ok {
		return sum, false
	}
	sum, visible := e.summaryOv.Resolve(chat, sum)
	if !visible {
		return sum, false
	}
	e.mu.RLock()
	if r, ok := e.reads[chat]; ok && r > sum.ReadUpTo {
		sum.ReadUpTo = r
	}
	e.mu.RUnlock()
	return sum, true
}

// ChatSummaries returns every visible summary, most recently updated first.
func (e *Engine) ChatSummaries() []model.ChatSummary {
	var out []model.ChatSummary
	for _, id := range e.summaries.Keys() {
		if sum, ok := e.Summary(id); ok {
			out = append(out, sum)
		}
	}
	slices.SortFunc(out, func(a, b model.ChatSummary) int {
		if c := cmp.Compare(b.LastUpdated, a.LastUpdated); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// UnreadCount returns how many messages of chat are past its read position.
func (e *Engine) UnreadCount(chat model.ChatID) int {
	sum, ok := e.Summary(chat)
	if !ok {
		return 0
	}
	return max(0, sum.LatestMessageIndex-sum.ReadUpTo)
}
