package peer

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/overlay"
	"github.com/matheus3301/chatsync/internal/poller"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/unconfirmed"
	"go.uber.org/zap"
)

// DefaultTypingTTL is how long a typing indicator lasts without a refresh.
const DefaultTypingTTL = 5 * time.Second

// Transport carries peer messages. Send with no peer ids reaches every
// peer watching the message's chat.
type Transport interface {
	Inbound() <-chan Message
	Send(ctx context.Context, peerIDs []string, msg Message) error
}

// Watcher is implemented by transports that must be told which chats to
// relay.
type Watcher interface {
	Watch(chats ...model.ChatID)
}

// BridgeOptions configure a Bridge.
type BridgeOptions struct {
	UserID    string
	TypingTTL time.Duration
	// Peers resolves the recipients of an outbound hint. Nil broadcasts to
	// every peer watching the chat.
	Peers func(model.ChatID) []string
	Clock poller.Clock
}

type typingKey struct {
	ctx  model.MessageContext
	user string
}

// Bridge folds peer hints into the engine's optimistic layers and relays
// local changes out. Hints never touch confirmed state: sent messages land
// in the unconfirmed queue with peer origin and everything else becomes an
// overlay, so the next poll overrides whatever a peer claimed.
type Bridge struct {
	engine    *chatsync.Engine
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	opts      BridgeOptions

	mu     sync.Mutex
	typing map[typingKey]poller.Timer
	reads  map[model.ChatID]map[string]int

	cancel  context.CancelFunc
	done    chan struct{}
	unwatch func()
}

// NewBridge creates a bridge over transport.
func NewBridge(eng *chatsync.Engine, t Transport, b *bus.Bus, logger *zap.Logger, opts BridgeOptions) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = DefaultTypingTTL
	}
	if opts.Clock == nil {
		opts.Clock = poller.RealClock
	}
	if opts.UserID == "" {
		opts.UserID = eng.UserID()
	}
	return &Bridge{
		engine:    eng,
		transport: t,
		bus:       b,
		logger:    logger,
		opts:      opts,
		typing:    make(map[typingKey]poller.Timer),
		reads:     make(map[model.ChatID]map[string]int),
	}
}

// Start consumes inbound hints until ctx ends or the transport closes its
// channel. Chats known to the engine are watched as their summaries arrive.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	if w, ok := b.transport.(Watcher); ok {
		w.Watch(b.engine.Summaries().Keys()...)
		b.unwatch = b.engine.Summaries().SubscribeAll(func(chat model.ChatID, _ model.ChatSummary) {
			w.Watch(chat)
		})
	}
	go b.loop(ctx)
}

// Stop ends the inbound loop and waits for it.
func (b *Bridge) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	if b.unwatch != nil {
		b.unwatch()
	}
	b.mu.Lock()
	for k, t := range b.typing {
		t.Stop()
		delete(b.typing, k)
	}
	b.mu.Unlock()
}

func (b *Bridge) loop(ctx context.Context) {
	defer close(b.done)
	in := b.transport.Inbound()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			b.Apply(msg)
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast sends a local change to peers.
func (b *Bridge) Broadcast(ctx context.Context, msg Message) error {
	msg.From = b.opts.UserID
	var peers []string
	if b.opts.Peers != nil {
		if mctx, err := msg.MessageContext(); err == nil {
			peers = b.opts.Peers(mctx.Chat)
		}
	}
	return b.transport.Send(ctx, peers, msg)
}

// Apply folds one inbound hint into local state. It reports whether the
// hint changed anything; hints for contexts that are not resident, echoes
// of our own messages and claims that would open a gap are dropped.
func (b *Bridge) Apply(msg Message) bool {
	if msg.From == "" || msg.From == b.opts.UserID {
		return false
	}
	mctx, err := msg.MessageContext()
	if err != nil {
		b.logger.Debug("dropping peer hint", zap.String("from", msg.From), zap.Error(err))
		return false
	}
	if !b.engine.Active(mctx) {
		return false
	}

	switch msg.Kind {
	case MessageSent:
		return b.applySent(mctx, msg)
	case ReactionAdded, ReactionRemoved:
		if !b.engine.Contains(mctx, msg.MessageID) || msg.Emoji == "" {
			return false
		}
		b.engine.PatchMessage(mctx, msg.MessageID, model.MessagePatch{
			Reactions: []model.ReactionChange{{Emoji: msg.Emoji, User: msg.From, Add: msg.Kind == ReactionAdded}},
		})
		return true
	case MessageDeleted, MessageUndeleted:
		if !b.engine.Contains(mctx, msg.MessageID) {
			return false
		}
		deleted := msg.Kind == MessageDeleted
		patch := model.MessagePatch{Deleted: overlay.Some(deleted)}
		if deleted {
			patch.DeletedBy = msg.From
		}
		b.engine.PatchMessage(mctx, msg.MessageID, patch)
		return true
	case UserRead:
		return b.applyRead(mctx.Chat, msg.From, msg.MessageIndex)
	case TypingStarted:
		b.setTyping(mctx, msg.From, true)
		return true
	case TypingStopped:
		return b.setTyping(mctx, msg.From, false)
	}
	return false
}

func (b *Bridge) applySent(mctx model.MessageContext, msg Message) bool {
	if msg.Event == nil || !msg.Event.IsMessage() {
		return false
	}
	evt := msg.Event.Clone()
	id := evt.Message.ID
	// A peer may only speak for its own messages.
	if id == "" || evt.Message.Sender != msg.From {
		return false
	}
	if b.engine.Contains(mctx, id) {
		return false
	}
	highest, ok := b.engine.Tracker().Highest(mctx)
	if !ok || evt.Index <= highest || !b.engine.Adjacent(mctx, evt.Index) {
		return false
	}
	b.engine.AddUnconfirmed(mctx, evt, unconfirmed.Peer)
	b.setTyping(mctx, msg.From, false)
	return true
}

func (b *Bridge) applyRead(chat model.ChatID, user string, idx int) bool {
	b.mu.Lock()
	byUser, ok := b.reads[chat]
	if !ok {
		byUser = make(map[string]int)
		b.reads[chat] = byUser
	}
	if cur, ok := byUser[user]; ok && cur >= idx {
		b.mu.Unlock()
		return false
	}
	byUser[user] = idx
	b.mu.Unlock()

	b.bus.Emit(bus.PeerRead, bus.ReadReceipt{Chat: chat, User: user, MessageIndex: idx})
	return true
}

// setTyping starts or refreshes a typing indicator, or clears it. It
// reports whether the visible state changed.
func (b *Bridge) setTyping(mctx model.MessageContext, user string, active bool) bool {
	key := typingKey{ctx: mctx, user: user}
	b.mu.Lock()
	t, was := b.typing[key]
	if was {
		t.Stop()
		delete(b.typing, key)
	}
	if active {
		var timer poller.Timer
		timer = b.opts.Clock.AfterFunc(b.opts.TypingTTL, func() {
			b.mu.Lock()
			if b.typing[key] != timer {
				b.mu.Unlock()
				return
			}
			delete(b.typing, key)
			b.mu.Unlock()
			b.bus.Emit(bus.PeerTyping, bus.Typing{Context: mctx, User: user, Active: false})
		})
		b.typing[key] = timer
	}
	b.mu.Unlock()

	if active == was {
		return false
	}
	b.bus.Emit(bus.PeerTyping, bus.Typing{Context: mctx, User: user, Active: active})
	return true
}

// Typing returns the peers currently typing in mctx.
func (b *Bridge) Typing(mctx model.MessageContext) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.typing {
		if k.ctx == mctx {
			out = append(out, k.user)
		}
	}
	slices.Sort(out)
	return out
}

// ReadBy returns the last message index each peer reported reading in chat.
func (b *Bridge) ReadBy(chat model.ChatID) map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.reads[chat]))
	for u, idx := range b.reads[chat] {
		out[u] = idx
	}
	return out
}
