package api

import (
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/send"
	"github.com/matheus3301/chatsync/internal/sync"
)

// Service names as they appear in full method paths.
const (
	SessionServiceName = "chatsync.v1.SessionService"
	SyncServiceName    = "chatsync.v1.SyncService"
	ChatServiceName    = "chatsync.v1.ChatService"
	MessageServiceName = "chatsync.v1.MessageService"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

type StatusResponse struct {
	Session    string `json:"session"`
	UserID     string `json:"user_id"`
	Status     string `json:"status"`
	UptimeMs   int64  `json:"uptime_ms"`
	Background bool   `json:"background"`
	Offline    bool   `json:"offline"`
	ChatCount  int    `json:"chat_count"`
}

// EnvRequest changes the environment. Nil fields are left alone.
type EnvRequest struct {
	Background *bool `json:"background,omitempty"`
	Offline    *bool `json:"offline,omitempty"`
}

type EnvResponse struct {
	Background bool `json:"background"`
	Offline    bool `json:"offline"`
}

// WatchRequest selects bus events by kind prefix; empty means everything.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// WatchEvent is one bus event streamed to a client.
type WatchEvent struct {
	ID               string `json:"id"`
	Session          string `json:"session"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Payload          any    `json:"payload,omitempty"`
}

type SyncStatusResponse struct {
	Status           string   `json:"status"`
	Busy             bool     `json:"busy"`
	LastSyncedUnixMs int64    `json:"last_synced_unix_ms,omitempty"`
	Contexts         []string `json:"contexts"`
	Pending          int      `json:"pending"` // unconfirmed entries across contexts
}

// ContextRequest addresses one message context by its string form.
type ContextRequest struct {
	Context string `json:"context"`
}

type ChatSummary struct {
	Chat          string `json:"chat"`
	Unread        int    `json:"unread"`
	LatestMessage string `json:"latest_message,omitempty"`
	LastUpdated   int64  `json:"last_updated"`
	Muted         bool   `json:"muted,omitempty"`
	Archived      bool   `json:"archived,omitempty"`
	Pinned        bool   `json:"pinned,omitempty"`
	Frozen        bool   `json:"frozen,omitempty"`
	RulesPending  bool   `json:"rules_pending,omitempty"`
}

type ListChatsRequest struct {
	Chat string `json:"chat,omitempty"` // narrow to one chat
}

type ListChatsResponse struct {
	Chats []ChatSummary `json:"chats"`
}

type TimelineRequest struct {
	Context string `json:"context"`
	Limit   int    `json:"limit,omitempty"` // newest items only; 0 for all
}

// Item delivery states.
const (
	ItemConfirmed = "confirmed"
	ItemAccepted  = "accepted"
	ItemPending   = "pending"
	ItemPeer      = "peer"
)

type TimelineItem struct {
	Index        int              `json:"index"`
	Timestamp    int64            `json:"timestamp"`
	Kind         string           `json:"kind"`
	State        string           `json:"state"`
	MessageID    string           `json:"message_id,omitempty"`
	MessageIndex int              `json:"message_index,omitempty"`
	Sender       string           `json:"sender,omitempty"`
	Content      *model.Content   `json:"content,omitempty"`
	Reactions    []model.Reaction `json:"reactions,omitempty"`
	Edited       bool             `json:"edited,omitempty"`
	Deleted      bool             `json:"deleted,omitempty"`
	Detail       string           `json:"detail,omitempty"` // member or metadata of non-message events
}

type TimelineResponse struct {
	Context string         `json:"context"`
	Items   []TimelineItem `json:"items"`
	Typing  []string       `json:"typing,omitempty"`
}

type SettingsRequest struct {
	Chat     string `json:"chat"`
	Muted    *bool  `json:"muted,omitempty"`
	Archived *bool  `json:"archived,omitempty"`
	Pinned   *bool  `json:"pinned,omitempty"`
}

type TypingRequest struct {
	Context string `json:"context"`
	Active  bool   `json:"active"`
}

type ReadReceiptsRequest struct {
	Chat string `json:"chat"`
}

type MarkReadRequest struct {
	Chat         string `json:"chat"`
	MessageIndex int    `json:"message_index"`
}

type ReadReceiptsResponse struct {
	ReadBy map[string]int `json:"read_by"`
}

// SendTextRequest sends text. AcceptRules and PIN answer the send gates
// for this call only.
type SendTextRequest struct {
	Context     string `json:"context"`
	Text        string `json:"text"`
	AcceptRules bool   `json:"accept_rules,omitempty"`
	PIN         string `json:"pin,omitempty"`
}

type SendTransferRequest struct {
	Context     string `json:"context"`
	Token       string `json:"token"`
	Amount      uint64 `json:"amount"`
	Recipient   string `json:"recipient"`
	AcceptRules bool   `json:"accept_rules,omitempty"`
	PIN         string `json:"pin,omitempty"`
}

type RetryRequest struct {
	MessageID   string `json:"message_id"`
	AcceptRules bool   `json:"accept_rules,omitempty"`
	PIN         string `json:"pin,omitempty"`
}

type SendResponse struct {
	Outcome       string `json:"outcome"`
	MessageID     string `json:"message_id"`
	EventIndex    int    `json:"event_index,omitempty"`
	MessageIndex  int    `json:"message_index,omitempty"`
	RetryAtUnixMs int64  `json:"retry_at_unix_ms,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

type MessageRequest struct {
	Context   string `json:"context"`
	MessageID string `json:"message_id"`
}

type SendStatusResponse struct {
	MessageID string `json:"message_id"`
	State     string `json:"state"`
}

type FailedMessage struct {
	MessageID      string `json:"message_id"`
	Reason         string `json:"reason"`
	FailedAtUnixMs int64  `json:"failed_at_unix_ms"`
	Text           string `json:"text,omitempty"`
}

type ListFailedResponse struct {
	Messages []FailedMessage `json:"messages"`
}

type EditRequest struct {
	Context   string `json:"context"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type DeleteRequest struct {
	Context   string `json:"context"`
	MessageID string `json:"message_id"`
	Undelete  bool   `json:"undelete,omitempty"`
}

type ReactionRequest struct {
	Context   string `json:"context"`
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type ReactionResponse struct {
	Added bool `json:"added"`
}

func itemToWire(it sync.Item) TimelineItem {
	out := TimelineItem{
		Index:     it.Event.Index,
		Timestamp: it.Event.Timestamp,
		Kind:      string(it.Event.Kind),
		State:     itemState(it),
	}
	switch {
	case it.Event.IsMessage():
		m := it.Event.Message
		content := m.Content
		out.MessageID = m.ID
		out.MessageIndex = m.Index
		out.Sender = m.Sender
		out.Content = &content
		out.Reactions = m.Reactions
		out.Edited = m.Edited
		out.Deleted = m.Deleted
	case it.Event.Member != "":
		out.Detail = it.Event.Member
	default:
		out.Detail = it.Event.Metadata
	}
	return out
}

func itemState(it sync.Item) string {
	switch {
	case it.Confirmed:
		return ItemConfirmed
	case it.Peer:
		return ItemPeer
	case it.Accepted:
		return ItemAccepted
	default:
		return ItemPending
	}
}

func resultToWire(res *send.Result) *SendResponse {
	out := &SendResponse{
		Outcome:      string(res.Outcome),
		MessageID:    res.MessageID,
		EventIndex:   res.EventIndex,
		MessageIndex: res.MessageIndex,
		Reason:       string(res.Reason),
	}
	if !res.RetryAt.IsZero() {
		out.RetryAtUnixMs = res.RetryAt.UnixMilli()
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func preview(evt *model.Event) string {
	if evt == nil || !evt.IsMessage() {
		return ""
	}
	c := evt.Message.Content
	switch c.Kind {
	case model.ContentTransfer:
		if c.Transfer != nil {
			return "[transfer " + c.Transfer.Token + "]"
		}
	case model.ContentDeleted:
		return "[deleted]"
	}
	if evt.Message.Deleted {
		return "[deleted]"
	}
	return c.Text
}
