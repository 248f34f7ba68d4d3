package send

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/backend"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/overlay"
	"github.com/matheus3301/chatsync/internal/peer"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/unconfirmed"
	"go.uber.org/zap"
)

// ErrUnknownMessage is returned for intents that address a message the
// client does not hold.
var ErrUnknownMessage = errors.New("unknown message")

// ErrUnknownChat is returned for settings of a chat with no summary.
var ErrUnknownChat = errors.New("unknown chat")

// reasonOffline marks sends that never left the device.
const reasonOffline backend.Reason = "offline"

// Outcome classifies how a send attempt ended.
type Outcome string

const (
	Sent               Outcome = "sent"
	Throttled          Outcome = "throttled"
	Cancelled          Outcome = "cancelled"
	PreconditionFailed Outcome = "precondition_failed"
	FailedRetryable    Outcome = "failed"
	Rejected           Outcome = "rejected"
)

// Result is the typed outcome of a send. Err carries the underlying
// failure for the failed, rejected and precondition outcomes.
type Result struct {
	Outcome      Outcome
	MessageID    string
	EventIndex   int
	MessageIndex int
	RetryAt      time.Time      // when a throttled send may be retried
	Reason       backend.Reason // set on failures the server explained
	Err          error
}

// Broadcaster relays confirmed local changes to connected peers.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg peer.Message) error
}

// Options configure a Pipeline.
type Options struct {
	Premium     bool
	PINRequired bool
	Throttle    ThrottleConfig
	Prompter    Prompter
	Broadcaster Broadcaster
	Now         func() time.Time
}

// Pipeline drives locally originated messages from composition to a server
// confirmed event, and applies the optimistic side of every other intent.
type Pipeline struct {
	engine   *sync.Engine
	backend  backend.Backend
	db       *store.DB
	env      *env.Environment
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options
	throttle *Throttle
	states   *states
}

// New creates a send pipeline.
func New(eng *sync.Engine, be backend.Backend, db *store.DB, e *env.Environment, b *bus.Bus, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Prompter == nil {
		opts.Prompter = StaticPrompter{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		engine:   eng,
		backend:  be,
		db:       db,
		env:      e,
		bus:      b,
		logger:   logger,
		opts:     opts,
		throttle: NewThrottle(db, opts.Throttle),
		states:   newStates(b),
	}
}

// SetBroadcaster attaches the peer relay once it exists. It must be called
// before the first send.
func (p *Pipeline) SetBroadcaster(b Broadcaster) {
	p.opts.Broadcaster = b
}

// SendText sends a plain text message.
func (p *Pipeline) SendText(ctx context.Context, mctx model.MessageContext, text string) (*Result, error) {
	return p.send(ctx, mctx, uuid.NewString(), model.Text(text), Composing)
}

// SendTransfer sends a value transfer. It is gated behind the PIN when one
// is configured.
func (p *Pipeline) SendTransfer(ctx context.Context, mctx model.MessageContext, t model.Transfer) (*Result, error) {
	content := model.Content{Kind: model.ContentTransfer, Transfer: &t}
	return p.send(ctx, mctx, uuid.NewString(), content, Composing)
}

// RetryFailedSend re-enters a failed message into the pipeline under the
// same message id with fresh provisional indices. Retryable failures come
// from the failed set; a rejected send can still be retried by hand from
// its send log row.
func (p *Pipeline) RetryFailedSend(ctx context.Context, messageID string) (*Result, error) {
	mctx, evt, err := p.failedEvent(messageID)
	if err != nil {
		return nil, err
	}
	if _, ok := p.states.get(messageID); !ok {
		if err := p.states.begin(messageID, Failed); err != nil {
			return nil, err
		}
	}
	p.bus.Emit(bus.MessageRetrying, bus.MessageRef{Context: mctx, MessageID: messageID})
	return p.send(ctx, mctx, messageID, evt.Message.Content, Failed)
}

func (p *Pipeline) failedEvent(messageID string) (model.MessageContext, model.Event, error) {
	f, err := p.db.GetFailed(messageID)
	if err != nil {
		return model.MessageContext{}, model.Event{}, fmt.Errorf("load failed message: %w", err)
	}
	if f != nil && f.Event.IsMessage() {
		return f.Context, f.Event, nil
	}
	rec, err := p.db.GetSend(messageID)
	if err != nil {
		return model.MessageContext{}, model.Event{}, fmt.Errorf("load send log: %w", err)
	}
	if rec == nil || rec.State != string(Failed) || !rec.Event.IsMessage() {
		return model.MessageContext{}, model.Event{}, fmt.Errorf("retry %s: %w", messageID, ErrUnknownMessage)
	}
	return rec.Context, rec.Event, nil
}

// Status returns the pipeline state of a local message.
func (p *Pipeline) Status(mctx model.MessageContext, messageID string) (State, error) {
	if st, ok := p.states.get(messageID); ok {
		return st, nil
	}
	rec, err := p.db.GetSend(messageID)
	if err != nil {
		return "", err
	}
	if rec == nil || rec.Context != mctx {
		return "", ErrUnknownMessage
	}
	return State(rec.State), nil
}

// Failed lists the retryable failed sends of a context.
func (p *Pipeline) Failed(mctx model.MessageContext) ([]store.FailedMessage, error) {
	return p.db.ListFailed(mctx)
}

func (p *Pipeline) send(ctx context.Context, mctx model.MessageContext, id string, content model.Content, from State) (*Result, error) {
	if err := p.states.begin(id, from); err != nil {
		return nil, err
	}
	if err := p.states.transition(id, PendingPreconditions); err != nil {
		return nil, err
	}

	pre, res := p.preconditions(ctx, mctx, id, content)
	if res != nil {
		p.states.abort(id, from)
		return res, nil
	}

	if err := p.states.transition(id, ThrottleChecked); err != nil {
		return nil, err
	}
	now := p.opts.Now()
	retryAt, ok, err := p.throttle.Check(now, p.opts.Premium)
	if err != nil {
		p.states.abort(id, from)
		return nil, err
	}
	if !ok {
		p.states.abort(id, from)
		p.logger.Info("send throttled", zap.String("message_id", id), zap.Time("retry_at", retryAt))
		return &Result{Outcome: Throttled, MessageID: id, RetryAt: retryAt}, nil
	}

	if from == Failed {
		if _, err := p.db.DeleteFailed(id); err != nil {
			p.logger.Error("failed to clear failed message", zap.Error(err), zap.String("message_id", id))
		}
	}

	evtIdx, msgIdx := p.engine.NextIndices(mctx)
	evt := model.Event{
		Index:     evtIdx,
		Timestamp: now.UnixMilli(),
		Kind:      model.KindMessage,
		Message: &model.Message{
			Index:   msgIdx,
			ID:      id,
			Sender:  p.engine.UserID(),
			Content: content,
		},
	}
	if err := p.states.transition(id, Unconfirmed); err != nil {
		return nil, err
	}
	p.engine.AddUnconfirmed(mctx, evt, unconfirmed.Local)
	if err := p.db.RecordSend(mctx, evt, string(Unconfirmed)); err != nil {
		p.logger.Error("failed to log send", zap.Error(err), zap.String("message_id", id))
	}
	if err := p.throttle.Record(now); err != nil {
		p.logger.Error("failed to record send", zap.Error(err))
	}
	p.bus.Emit(bus.MessageSending, bus.MessageRef{Context: mctx, MessageID: id})

	if p.env != nil && p.env.State().Offline {
		return p.fail(mctx, evt, backend.Rejected(reasonOffline, "no network")), nil
	}

	resp, err := p.backend.SendMessage(ctx, backend.SendRequest{
		Context:       mctx,
		Event:         evt,
		Preconditions: pre,
		OnAccepted: func() {
			if p.engine.MarkAccepted(mctx, id) {
				p.bus.Emit(bus.MessageAccepted, bus.MessageRef{Context: mctx, MessageID: id})
			}
		},
	})
	if err != nil {
		return p.fail(mctx, evt, err), nil
	}
	if pre.RulesAccepted > 0 {
		// Held until the next summary from the server carries the acceptance.
		p.engine.PatchSummary(mctx.Chat, model.SummaryPatch{RulesAccepted: overlay.Some(true)})
	}
	return p.confirm(ctx, mctx, evt, resp), nil
}

// preconditions resolves the rules and PIN gates. A non-nil result ends the
// attempt with nothing applied.
func (p *Pipeline) preconditions(ctx context.Context, mctx model.MessageContext, id string, content model.Content) (backend.Preconditions, *Result) {
	var pre backend.Preconditions
	prompter := p.prompter(ctx)
	if sum, ok := p.engine.Summary(mctx.Chat); ok && sum.Rules.NeedsAcceptance() {
		if err := prompter.AcceptRules(ctx, mctx.Chat, sum.Rules); err != nil {
			return pre, &Result{Outcome: Cancelled, MessageID: id, Err: err}
		}
		pre.RulesAccepted = sum.Rules.Version
	}
	if p.opts.PINRequired && content.IsTransfer() {
		pin, err := prompter.EnterPIN(ctx)
		if err != nil {
			return pre, &Result{Outcome: Cancelled, MessageID: id, Err: err}
		}
		pre.PIN = pin
	}
	return pre, nil
}

func (p *Pipeline) confirm(ctx context.Context, mctx model.MessageContext, evt model.Event, resp *backend.SendResponse) *Result {
	id := evt.Message.ID
	confirmed := evt.Clone()
	confirmed.Index = resp.EventIndex
	confirmed.Message.Index = resp.MessageIndex
	if resp.Timestamp != 0 {
		confirmed.Timestamp = resp.Timestamp
	}

	if v := p.engine.Confirm(mctx, confirmed); !v.Accepted() {
		// Others wrote in between; the entry stays visible until the gap
		// is fetched.
		p.engine.MarkAccepted(mctx, id)
		if err := p.engine.LoadNew(ctx, mctx); err != nil {
			p.logger.Debug("catch-up after send failed", zap.Error(err), zap.Stringer("context", mctx))
		}
	}
	if !mctx.IsThread() {
		p.engine.MarkRead(mctx.Chat, confirmed.Message.Index)
	}
	if err := p.states.transition(id, Confirmed); err != nil {
		p.logger.Error("send state", zap.Error(err))
	}
	if err := p.db.MarkSendConfirmed(id, string(Confirmed), confirmed.Index); err != nil {
		p.logger.Error("failed to mark send confirmed", zap.Error(err), zap.String("message_id", id))
	}
	p.logger.Info("message sent", zap.String("message_id", id), zap.Stringer("context", mctx), zap.Int("event_index", confirmed.Index))
	p.bus.Emit(bus.MessageSent, bus.MessageRef{Context: mctx, MessageID: id})
	p.broadcast(ctx, peer.Sent(mctx, confirmed))

	return &Result{Outcome: Sent, MessageID: id, EventIndex: confirmed.Index, MessageIndex: confirmed.Message.Index}
}

// fail removes the optimistic entry and classifies err. Transport failures
// and retryable rejections are kept in the failed set for a manual retry.
func (p *Pipeline) fail(mctx model.MessageContext, evt model.Event, err error) *Result {
	id := evt.Message.ID
	p.engine.RemoveUnconfirmed(mctx, id, unconfirmed.Local)

	res := &Result{Outcome: FailedRetryable, MessageID: id, Err: err}
	if rej, ok := backend.AsRejected(err); ok {
		res.Reason = rej.Reason
		switch {
		case rej.Reason.Precondition():
			res.Outcome = PreconditionFailed
		case rej.Reason.Retryable(), rej.Reason == reasonOffline:
		default:
			res.Outcome = Rejected
		}
	}
	if res.Outcome == FailedRetryable {
		reason := string(res.Reason)
		if reason == "" {
			reason = err.Error()
		}
		if err := p.db.SaveFailed(mctx, evt, reason); err != nil {
			p.logger.Error("failed to save failed message", zap.Error(err), zap.String("message_id", id))
		}
	}

	if err := p.states.transition(id, Failed); err != nil {
		p.logger.Error("send state", zap.Error(err))
	}
	if err := p.db.MarkSendFailed(id, string(Failed), err.Error()); err != nil {
		p.logger.Error("failed to mark send failed", zap.Error(err), zap.String("message_id", id))
	}
	p.logger.Warn("send failed", zap.String("message_id", id), zap.String("outcome", string(res.Outcome)), zap.Error(err))
	p.bus.Emit(bus.MessageSendFailed, bus.SendFailure{
		Context:   mctx,
		MessageID: id,
		Reason:    err.Error(),
		Retryable: res.Outcome == FailedRetryable,
	})
	return res
}

func (p *Pipeline) broadcast(ctx context.Context, msg peer.Message) {
	if p.opts.Broadcaster == nil {
		return
	}
	if err := p.opts.Broadcaster.Broadcast(ctx, msg); err != nil {
		p.logger.Debug("peer broadcast failed", zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}
