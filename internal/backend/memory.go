package backend

import (
	"context"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/model"
)

type userKey struct{}

// WithUser tags ctx with the calling user. Backends that serve several
// users read it to attribute reactions and deletions.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the user set by WithUser, or fallback.
func UserFrom(ctx context.Context, fallback string) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return fallback
}

// Memory is an authoritative backend held in memory. It assigns indices,
// enforces rules, PIN and frozen chats the way a real server does, and
// serves development setups and end-to-end tests.
type Memory struct {
	// DefaultUser acts for requests whose context carries no user.
	DefaultUser string

	mu       sync.Mutex
	update   int64
	chats    map[model.ChatID]*memChat
	pin      string
	sendErr  error
	fetchErr error
}

type memChat struct {
	summary   model.ChatSummary
	timelines map[model.MessageContext][]model.Event
	messages  map[model.MessageContext]int
}

// NewMemory creates an empty server. pin, when set, gates transfers.
func NewMemory(pin string) *Memory {
	return &Memory{chats: make(map[model.ChatID]*memChat), pin: pin}
}

// AddChat creates or replaces a conversation with no events.
func (m *Memory) AddChat(sum model.ChatSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update++
	sum.LatestEventIndex = -1
	sum.LatestMessageIndex = -1
	sum.LatestMessage = nil
	if sum.ReadUpTo == 0 {
		sum.ReadUpTo = -1
	}
	sum.LastUpdated = m.update
	m.chats[sum.ID] = &memChat{
		summary:   sum,
		timelines: make(map[model.MessageContext][]model.Event),
		messages:  make(map[model.MessageContext]int),
	}
}

// Post appends a message from sender as if another client had sent it and
// returns the stored event.
func (m *Memory) Post(mctx model.MessageContext, sender, id string, content model.Content) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[mctx.Chat]
	if !ok {
		return model.Event{}, Rejected(ReasonNotAuthorized, "unknown chat")
	}
	evt := model.Event{Kind: model.KindMessage, Message: &model.Message{ID: id, Sender: sender, Content: content}}
	return m.appendLocked(c, mctx, evt), nil
}

// FailSends makes every send fail with err until called with nil.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// FailFetches makes every event fetch fail until called with nil.
func (m *Memory) FailFetches(err error) {
	m.mu.Lock()
	m.fetchErr = err
	m.mu.Unlock()
}

func (m *Memory) appendLocked(c *memChat, mctx model.MessageContext, evt model.Event) model.Event {
	m.update++
	evt = evt.Clone()
	evt.Index = len(c.timelines[mctx])
	evt.Timestamp = m.update
	if evt.IsMessage() {
		evt.Message.Index = c.messages[mctx]
		evt.Message.Partial = false
		c.messages[mctx]++
	}
	c.timelines[mctx] = append(c.timelines[mctx], evt)
	if !mctx.IsThread() {
		c.summary.LatestEventIndex = evt.Index
		if evt.IsMessage() {
			stored := evt.Clone()
			c.summary.LatestMessage = &stored
			c.summary.LatestMessageIndex = evt.Message.Index
		}
	}
	c.summary.LastUpdated = m.update
	return evt
}

func (m *Memory) touchLocked(c *memChat) {
	m.update++
	c.summary.LastUpdated = m.update
}

// GetUpdates implements Backend.
func (m *Memory) GetUpdates(ctx context.Context, req UpdatesRequest) (*Updates, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &Updates{Timestamp: m.update}
	for _, c := range m.chats {
		if req.Initial || c.summary.LastUpdated > req.Since {
			out.Chats = append(out.Chats, cloneSummary(c.summary))
		}
	}
	slices.SortFunc(out.Chats, func(a, b model.ChatSummary) int {
		return int(b.LastUpdated - a.LastUpdated)
	})
	return out, nil
}

// FetchEvents implements Backend.
func (m *Memory) FetchEvents(ctx context.Context, req FetchRequest) (*EventsPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	c, ok := m.chats[req.Context.Chat]
	if !ok {
		return &EventsPage{LatestEventIndex: -1}, nil
	}
	all := c.timelines[req.Context]
	page := &EventsPage{LatestEventIndex: len(all) - 1}
	if len(all) == 0 {
		return page, nil
	}
	limit := req.MaxEvents
	if limit <= 0 {
		limit = len(all)
	}
	start := req.StartIndex
	if start < 0 || start >= len(all) {
		start = len(all) - 1
	}
	if req.Ascending {
		for i := start; i < len(all) && len(page.Events) < limit; i++ {
			page.Events = append(page.Events, all[i].Clone())
		}
		return page, nil
	}
	for i := start; i >= 0 && len(page.Events) < limit; i-- {
		page.Events = append(page.Events, all[i].Clone())
	}
	slices.Reverse(page.Events)
	return page, nil
}

// SendMessage implements Backend. A message id the server already holds
// returns the stored indices instead of appending twice.
func (m *Memory) SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.OnAccepted != nil {
		req.OnAccepted()
	}
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	c, ok := m.chats[req.Context.Chat]
	if !ok || !req.Event.IsMessage() {
		return nil, Rejected(ReasonNotAuthorized, "unknown chat")
	}
	for _, evt := range c.timelines[req.Context] {
		if evt.MessageID() == req.Event.MessageID() {
			return &SendResponse{EventIndex: evt.Index, MessageIndex: evt.Message.Index, Timestamp: evt.Timestamp}, nil
		}
	}
	if c.summary.Frozen {
		return nil, Rejected(ReasonFrozen, "")
	}
	if r := c.summary.Rules; r.NeedsAcceptance() {
		if req.Preconditions.RulesAccepted < r.Version {
			return nil, Rejected(ReasonRulesNotAccepted, "")
		}
		c.summary.Rules.Accepted = true
	}
	if m.pin != "" && req.Event.Message.Content.IsTransfer() {
		switch req.Preconditions.PIN {
		case "":
			return nil, Rejected(ReasonPINRequired, "")
		case m.pin:
		default:
			return nil, Rejected(ReasonPINIncorrect, "")
		}
	}

	evt := req.Event
	evt.Message = &model.Message{ID: req.Event.Message.ID, Sender: UserFrom(ctx, req.Event.Message.Sender), Content: req.Event.Message.Content}
	stored := m.appendLocked(c, req.Context, evt)
	return &SendResponse{EventIndex: stored.Index, MessageIndex: stored.Message.Index, Timestamp: stored.Timestamp}, nil
}

// RehydrateMessage implements Backend.
func (m *Memory) RehydrateMessage(_ context.Context, mctx model.MessageContext, evt model.Event) (model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stored, ok := m.findLocked(mctx, evt.MessageID()); ok {
		return stored.Clone(), nil
	}
	return evt, Rejected(ReasonMessageNotFound, evt.MessageID())
}

func (m *Memory) findLocked(mctx model.MessageContext, messageID string) (*model.Event, bool) {
	c, ok := m.chats[mctx.Chat]
	if !ok {
		return nil, false
	}
	tl := c.timelines[mctx]
	for i := range tl {
		if tl[i].MessageID() == messageID {
			return &tl[i], true
		}
	}
	return nil, false
}

func (m *Memory) mutate(ctx context.Context, mctx model.MessageContext, messageID string, fn func(user string, msg *model.Message) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	evt, ok := m.findLocked(mctx, messageID)
	if !ok {
		return Rejected(ReasonMessageNotFound, messageID)
	}
	if err := fn(UserFrom(ctx, m.DefaultUser), evt.Message); err != nil {
		return err
	}
	m.touchLocked(m.chats[mctx.Chat])
	return nil
}

// EditMessage implements Backend.
func (m *Memory) EditMessage(ctx context.Context, mctx model.MessageContext, messageID string, content model.Content) error {
	return m.mutate(ctx, mctx, messageID, func(_ string, msg *model.Message) error {
		msg.Content = content
		msg.Edited = true
		return nil
	})
}

// DeleteMessage implements Backend.
func (m *Memory) DeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error {
	return m.mutate(ctx, mctx, messageID, func(user string, msg *model.Message) error {
		msg.Deleted = true
		msg.DeletedBy = user
		return nil
	})
}

// UndeleteMessage implements Backend.
func (m *Memory) UndeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error {
	return m.mutate(ctx, mctx, messageID, func(_ string, msg *model.Message) error {
		msg.Deleted = false
		msg.DeletedBy = ""
		return nil
	})
}

// ToggleReaction implements Backend.
func (m *Memory) ToggleReaction(ctx context.Context, mctx model.MessageContext, messageID, emoji string, add bool) error {
	return m.mutate(ctx, mctx, messageID, func(user string, msg *model.Message) error {
		if user == "" {
			return Rejected(ReasonNotAuthorized, "anonymous reaction")
		}
		msg.SetReaction(emoji, user, add)
		return nil
	})
}

// UpdateChatSettings implements Backend.
func (m *Memory) UpdateChatSettings(ctx context.Context, chat model.ChatID, s ChatSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chat]
	if !ok {
		return Rejected(ReasonNotAuthorized, "unknown chat")
	}
	if s.Muted != nil {
		c.summary.Muted = *s.Muted
	}
	if s.Archived != nil {
		c.summary.Archived = *s.Archived
	}
	if s.Pinned != nil {
		c.summary.Pinned = *s.Pinned
	}
	if s.RulesAccepted != nil && *s.RulesAccepted >= c.summary.Rules.Version {
		c.summary.Rules.Accepted = true
	}
	m.touchLocked(c)
	return nil
}

func cloneSummary(s model.ChatSummary) model.ChatSummary {
	if s.LatestMessage != nil {
		evt := s.LatestMessage.Clone()
		s.LatestMessage = &evt
	}
	return s
}
