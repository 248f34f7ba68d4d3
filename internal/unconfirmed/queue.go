package unconfirmed

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Origin records who put an entry in the queue.
type Origin int

const (
	Local Origin = iota // optimistic local send
	Peer                // "remote sent" hint from the peer relay
)

// Entry is a locally visible event that the server has not confirmed yet.
// Its indices are provisional and are replaced when the confirmed copy merges.
type Entry struct {
	Event    model.Event
	Accepted bool // transport acknowledged, server index still unknown
	Origin   Origin
	AddedAt  time.Time
}

// Queue holds unconfirmed events keyed by message context and message id.
type Queue struct {
	mu      sync.RWMutex
	entries map[model.MessageContext]map[string]*Entry
	now     func() time.Time
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		entries: make(map[model.MessageContext]map[string]*Entry),
		now:     time.Now,
	}
}

// Add inserts or replaces the entry for the event's message id.
func (q *Queue) Add(ctx model.MessageContext, evt model.Event, origin Origin) {
	id := evt.MessageID()
	if id == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	byID, ok := q.entries[ctx]
	if !ok {
		byID = make(map[string]*Entry)
		q.entries[ctx] = byID
	}
	byID[id] = &Entry{Event: evt.Clone(), Origin: origin, AddedAt: q.now()}
}

// MarkAccepted flips the accepted flag. It reports whether the entry exists.
func (q *Queue) MarkAccepted(ctx model.MessageContext, messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[ctx][messageID]
	if ok {
		e.Accepted = true
	}
	return ok
}

// Delete removes an entry regardless of origin.
func (q *Queue) Delete(ctx model.MessageContext, messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deleteLocked(ctx, messageID)
}

// DeleteOwned removes an entry only if it was added with the given origin,
// so a peer hint can never evict a local send.
func (q *Queue) DeleteOwned(ctx model.MessageContext, messageID string, origin Origin) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[ctx][messageID]
	if !ok || e.Origin != origin {
		return false
	}
	return q.deleteLocked(ctx, messageID)
}

func (q *Queue) deleteLocked(ctx model.MessageContext, messageID string) bool {
	byID, ok := q.entries[ctx]
	if !ok {
		return false
	}
	if _, ok := byID[messageID]; !ok {
		return false
	}
	delete(byID, messageID)
	if len(byID) == 0 {
		delete(q.entries, ctx)
	}
	return true
}

// Contains reports whether an entry exists for the message id.
func (q *Queue) Contains(ctx model.MessageContext, messageID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.entries[ctx][messageID]
	return ok
}

// Get returns a copy of the entry for the message id.
func (q *Queue) Get(ctx model.MessageContext, messageID string) (Entry, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.entries[ctx][messageID]
	if !ok {
		return Entry{}, false
	}
	cp := *e
	cp.Event = e.Event.Clone()
	return cp, true
}

// Entries returns copies of the entries for ctx ordered by provisional index.
func (q *Queue) Entries(ctx model.MessageContext) []Entry {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Entry, 0, len(q.entries[ctx]))
	for _, e := range q.entries[ctx] {
		cp := *e
		cp.Event = e.Event.Clone()
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.Event.Index != b.Event.Index {
			return a.Event.Index - b.Event.Index
		}
		return a.AddedAt.Compare(b.AddedAt)
	})
	return out
}

// Highest returns the highest provisional event and message index in ctx.
func (q *Queue) Highest(ctx model.MessageContext) (eventIndex, messageIndex int, ok bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	eventIndex, messageIndex = -1, -1
	for _, e := range q.entries[ctx] {
		ok = true
		eventIndex = max(eventIndex, e.Event.Index)
		if e.Event.Message != nil {
			messageIndex = max(messageIndex, e.Event.Message.Index)
		}
	}
	return eventIndex, messageIndex, ok
}

// PruneOrigin drops entries of the given origin older than maxAge and
// returns how many were dropped. Peer hints that never get confirmed are
// expired this way.
func (q *Queue) PruneOrigin(origin Origin, maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-maxAge)
	n := 0
	for ctx, byID := range q.entries {
		for id, e := range byID {
			if e.Origin == origin && e.AddedAt.Before(cutoff) {
				delete(byID, id)
				n++
			}
		}
		if len(byID) == 0 {
			delete(q.entries, ctx)
		}
	}
	return n
}

// SetClock replaces the time source. Intended for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}
