package sync

import (
	"context"
	"slices"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/observe"
	"github.com/matheus3301/chatsync/internal/overlay"
	"github.com/matheus3301/chatsync/internal/poller"
	"github.com/matheus3301/chatsync/internal/ranges"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/unconfirmed"
	"go.uber.org/zap"
)

// DefaultPageSize is the number of events requested per fetch.
const DefaultPageSize = 50

// MessageKey addresses the overlay of one message.
type MessageKey struct {
	Context   model.MessageContext
	MessageID string
}

// Intervals are the poll intervals. A zero idle interval means the job does
// not run while the app is backgrounded.
type Intervals struct {
	Chat        time.Duration
	ChatIdle    time.Duration
	Updates     time.Duration
	UpdatesIdle time.Duration
}

// DefaultIntervals mirrors the config defaults.
var DefaultIntervals = Intervals{
	Chat:        5 * time.Second,
	ChatIdle:    60 * time.Second,
	Updates:     4 * time.Second,
	UpdatesIdle: 60 * time.Second,
}

// Options configure an Engine.
type Options struct {
	UserID     string
	PageSize   int
	OverlayTTL time.Duration
	Intervals  Intervals
	Clock      poller.Clock // nil uses the wall clock
}

type timeline struct {
	events map[int]model.Event
}

// Engine owns the confirmed timelines and the range tracker of every message
// context, and is the only component that mutates them. Unconfirmed entries
// and overlays live beside it and are folded in at read time.
type Engine struct {
	backend backend.Backend
	db      *store.DB
	bus     *bus.Bus
	env     *env.Environment
	status  *status.Machine
	logger  *zap.Logger
	opts    Options
	recon   *Reconciler

	tracker   *ranges.Tracker
	queue     *unconfirmed.Queue
	messages  *overlay.Store[MessageKey, model.Message, model.MessagePatch]
	summaryOv *overlay.Store[model.ChatID, model.ChatSummary, model.SummaryPatch]
	summaries *observe.Store[model.ChatID, model.ChatSummary]

	mu         stdsync.RWMutex
	timelines  map[model.MessageContext]*timeline
	reads      map[model.ChatID]int
	lastUpdate int64
	lastSynced time.Time

	lockMu   stdsync.Mutex
	ctxLocks map[model.MessageContext]*stdsync.Mutex
	flights  map[loadKey]*flight
	inflight atomic.Int32

	pollers  *poller.Group[string]
	runCtx   context.Context
	envUnsub func()
}

// NewEngine creates a sync engine. db may be nil, in which case read
// positions and checkpoints are kept in memory only.
func NewEngine(be backend.Backend, db *store.DB, b *bus.Bus, e *env.Environment, st *status.Machine, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if st == nil {
		st = status.NewMachine(b)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.OverlayTTL <= 0 {
		opts.OverlayTTL = overlay.DefaultTTL
	}
	if opts.Intervals == (Intervals{}) {
		opts.Intervals = DefaultIntervals
	}
	eng := &Engine{
		backend:   be,
		db:        db,
		bus:       b,
		env:       e,
		status:    st,
		logger:    logger,
		opts:      opts,
		tracker:   ranges.NewTracker(),
		queue:     unconfirmed.New(),
		messages:  overlay.New[MessageKey, model.Message, model.MessagePatch](opts.OverlayTTL),
		summaryOv: overlay.New[model.ChatID, model.ChatSummary, model.SummaryPatch](opts.OverlayTTL),
		summaries: observe.New[model.ChatID, model.ChatSummary](),
		timelines: make(map[model.MessageContext]*timeline),
		reads:     make(map[model.ChatID]int),
		ctxLocks:  make(map[model.MessageContext]*stdsync.Mutex),
		flights:   make(map[loadKey]*flight),
		pollers:   poller.NewGroup[string](),
	}
	if db != nil {
		eng.recon = NewReconciler(db, logger)
	}
	return eng
}

// UserID returns the local user.
func (e *Engine) UserID() string { return e.opts.UserID }

// Status returns the engine's status machine.
func (e *Engine) Status() *status.Machine { return e.status }

// Tracker exposes the range tracker for read-only use.
func (e *Engine) Tracker() *ranges.Tracker { return e.tracker }

// Queue exposes the unconfirmed write queue.
func (e *Engine) Queue() *unconfirmed.Queue { return e.queue }

// Summaries exposes the observable summary store.
func (e *Engine) Summaries() *observe.Store[model.ChatID, model.ChatSummary] { return e.summaries }

// SetClock replaces the time source of the overlay and unconfirmed stores.
// Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.messages.SetClock(now)
	e.summaryOv.SetClock(now)
	e.queue.SetClock(now)
}

// Restore loads persisted read positions and the last sync time. Summaries
// are not persisted, so the first poll after a restart is always an initial
// load.
func (e *Engine) Restore() error {
	if e.db == nil {
		return nil
	}
	if _, at, ok, err := e.recon.LastUpdates(); err != nil {
		return err
	} else if ok {
		e.mu.Lock()
		e.lastSynced = at
		e.mu.Unlock()
	}
	pos, err := e.db.ReadPositions()
	if err != nil {
		return err
	}
	e.mu.Lock()
	for chat, idx := range pos {
		e.reads[chat] = max(e.reads[chat], idx)
	}
	e.mu.Unlock()
	return nil
}

// Active reports whether mctx has resident events.
func (e *Engine) Active(mctx model.MessageContext) bool {
	return e.tracker.Active(mctx)
}

// Adjacent reports whether an event at index would extend or fall inside the
// loaded coverage of an active context without opening a gap.
func (e *Engine) Adjacent(mctx model.MessageContext, index int) bool {
	return e.tracker.Contiguous(mctx, index, index) == ranges.Accept
}

// Contains reports whether a confirmed or unconfirmed event with messageID is
// present in mctx.
func (e *Engine) Contains(mctx model.MessageContext, messageID string) bool {
	if e.confirmedHas(mctx, messageID) {
		return true
	}
	return e.queue.Contains(mctx, messageID)
}

// Confirmed reports whether a confirmed event with messageID is present.
func (e *Engine) Confirmed(mctx model.MessageContext, messageID string) bool {
	return e.confirmedHas(mctx, messageID)
}

func (e *Engine) confirmedHas(mctx model.MessageContext, messageID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tl, ok := e.timelines[mctx]
	if !ok {
		return false
	}
	for _, evt := range tl.events {
		if evt.MessageID() == messageID {
			return true
		}
	}
	return false
}

// NextIndices returns provisional event and message indices: one past the
// highest index known from confirmed events, unconfirmed entries and, for
// the main timeline, the chat summary.
func (e *Engine) NextIndices(mctx model.MessageContext) (eventIndex, messageIndex int) {
	eventIndex, messageIndex = -1, -1
	if h, ok := e.tracker.Highest(mctx); ok {
		eventIndex = h
	}
	e.mu.RLock()
	if tl, ok := e.timelines[mctx]; ok {
		for _, evt := range tl.events {
			if evt.IsMessage() {
				messageIndex = max(messageIndex, evt.Message.Index)
			}
		}
	}
	e.mu.RUnlock()
	if ev, msg, ok := e.queue.Highest(mctx); ok {
		eventIndex = max(eventIndex, ev)
		messageIndex = max(messageIndex, msg)
	}
	if !mctx.IsThread() {
		if sum, ok := e.summaries.Get(mctx.Chat); ok {
			eventIndex = max(eventIndex, sum.LatestEventIndex)
			messageIndex = max(messageIndex, sum.LatestMessageIndex)
		}
	}
	return eventIndex + 1, messageIndex + 1
}

// AddUnconfirmed inserts an optimistic event, visible immediately.
func (e *Engine) AddUnconfirmed(mctx model.MessageContext, evt model.Event, origin unconfirmed.Origin) {
	e.queue.Add(mctx, evt, origin)
	e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx})
}

// MarkAccepted flips the accepted flag of an unconfirmed entry.
func (e *Engine) MarkAccepted(mctx model.MessageContext, messageID string) bool {
	return e.queue.MarkAccepted(mctx, messageID)
}

// RemoveUnconfirmed drops an unconfirmed entry added with origin. Entries of
// another origin are left alone.
func (e *Engine) RemoveUnconfirmed(mctx model.MessageContext, messageID string, origin unconfirmed.Origin) bool {
	if !e.queue.DeleteOwned(mctx, messageID, origin) {
		return false
	}
	e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx})
	return true
}

// PatchMessage overlays a pending change on a message addressed by id.
func (e *Engine) PatchMessage(mctx model.MessageContext, messageID string, patch model.MessagePatch) overlay.Op {
	op := e.messages.Update(MessageKey{Context: mctx, MessageID: messageID}, patch)
	e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx})
	return op.Then(func() { e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx}) })
}

// HideMessage removes a message from local reads until rolled back or expired.
func (e *Engine) HideMessage(mctx model.MessageContext, messageID string) overlay.Op {
	op := e.messages.Remove(MessageKey{Context: mctx, MessageID: messageID})
	e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx})
	return op.Then(func() { e.bus.Emit(bus.ChatUpdated, bus.ChatUpdate{Context: mctx}) })
}

// PatchSummary overlays a pending change on a chat summary.
func (e *Engine) PatchSummary(chat model.ChatID, patch model.SummaryPatch) overlay.Op {
	op := e.summaryOv.Update(chat, patch)
	ctx := model.Main(chat)
	e.bus.Emit(bus.ChatSettingsChanged, bus.ChatUpdate{Context: ctx})
	return op.Then(func() { e.bus.Emit(bus.ChatSettingsChanged, bus.ChatUpdate{Context: ctx}) })
}

// MarkRead advances the local read position of chat to messageIndex. It
// never moves backwards.
func (e *Engine) MarkRead(chat model.ChatID, messageIndex int) {
	e.mu.Lock()
	cur, ok := e.reads[chat]
	if ok && cur >= messageIndex {
		e.mu.Unlock()
		return
	}
	e.reads[chat] = messageIndex
	e.mu.Unlock()

	if e.db != nil {
		if err := e.db.SetReadPosition(chat, messageIndex); err != nil {
			e.logger.Error("failed to persist read position", zap.Error(err), zap.Stringer("chat", chat))
		}
	}
	e.bus.Emit(bus.ChatSummaryUpdated, bus.ChatUpdate{Context: model.Main(chat)})
}

// Prune expires stale overlays and unconfirmed peer hints.
func (e *Engine) Prune() int {
	n := e.messages.Prune() + e.summaryOv.Prune()
	n += e.queue.PruneOrigin(unconfirmed.Peer, e.opts.OverlayTTL)
	return n
}

// Busy reports whether any timeline load is in flight.
func (e *Engine) Busy() bool {
	return e.inflight.Load() > 0
}

// LastSynced returns when get-updates last succeeded.
func (e *Engine) LastSynced() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSynced
}

// Contexts returns every context with a resident timeline.
func (e *Engine) Contexts() []model.MessageContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.MessageContext, 0, len(e.timelines))
	for mctx := range e.timelines {
		out = append(out, mctx)
	}
	slices.SortFunc(out, func(a, b model.MessageContext) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	})
	return out
}
