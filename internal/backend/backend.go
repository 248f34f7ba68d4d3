package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// ErrEventsFailed is returned (wrapped) whenever an event fetch fails at the
// transport level. Callers must treat it as "try again later", never as an
// empty page. Fetches are all-or-nothing: no partial result accompanies it.
var ErrEventsFailed = errors.New("events_failed")

// Backend is the authoritative, high-latency server collaborator. The wire
// encoding behind it is opaque to the engine.
type Backend interface {
	GetUpdates(ctx context.Context, req UpdatesRequest) (*Updates, error)
	FetchEvents(ctx context.Context, req FetchRequest) (*EventsPage, error)
	SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error)
	RehydrateMessage(ctx context.Context, mctx model.MessageContext, evt model.Event) (model.Event, error)

	EditMessage(ctx context.Context, mctx model.MessageContext, messageID string, content model.Content) error
	DeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error
	UndeleteMessage(ctx context.Context, mctx model.MessageContext, messageID string) error
	ToggleReaction(ctx context.Context, mctx model.MessageContext, messageID, emoji string, add bool) error
	UpdateChatSettings(ctx context.Context, chat model.ChatID, settings ChatSettings) error
}

// UpdatesRequest asks for everything that changed since a known update.
type UpdatesRequest struct {
	Initial bool
	Since   int64 // LastUpdated of the previous response, 0 on initial load
}

// Updates is one get-updates delta.
type Updates struct {
	Timestamp int64
	Chats     []model.ChatSummary // added or changed chats
	Removed   []model.ChatID
}

// FetchRequest pages events of one context starting at StartIndex. A
// negative StartIndex with Ascending false means "from the latest event".
type FetchRequest struct {
	Context           model.MessageContext
	IndexRange        model.Range // valid index bounds; Hi < 0 when unknown
	StartIndex        int
	Ascending         bool
	MaxEvents         int
	LatestKnownUpdate int64
}

// EventsPage is an all-or-nothing fetch result.
type EventsPage struct {
	Events           []model.Event
	ExpiredRanges    []model.Range
	LatestEventIndex int
}

// Preconditions are satisfied gates passed along with a send.
type Preconditions struct {
	RulesAccepted int    `json:",omitempty"` // accepted rules version, 0 when none were required
	PIN           string `json:",omitempty"`
}

// SendRequest is an outgoing message.
type SendRequest struct {
	Context       model.MessageContext
	Event         model.Event
	Preconditions Preconditions
	// OnAccepted, when set, is called once the transport has taken the
	// message but before the server has assigned its index.
	OnAccepted func() `json:"-"`
}

// SendResponse carries the server-assigned indices of a sent message.
type SendResponse struct {
	EventIndex   int
	MessageIndex int
	Timestamp    int64
}

// ChatSettings are the per-chat toggles backed by the server.
type ChatSettings struct {
	Muted         *bool `json:",omitempty"`
	Archived      *bool `json:",omitempty"`
	Pinned        *bool `json:",omitempty"`
	RulesAccepted *int  `json:",omitempty"`
}

// Reason is why the server refused a request.
type Reason string

const (
	ReasonBlocked          Reason = "blocked"
	ReasonContentFiltered  Reason = "content_filtered"
	ReasonFrozen           Reason = "chat_frozen"
	ReasonNotAuthorized    Reason = "not_authorized"
	ReasonRulesNotAccepted Reason = "rules_not_accepted"
	ReasonPINRequired      Reason = "pin_required"
	ReasonPINIncorrect     Reason = "pin_incorrect"
	ReasonTooManyPINFails  Reason = "too_many_pin_failures"
	ReasonMessageNotFound  Reason = "message_not_found"
	ReasonInternal         Reason = "internal_error"
)

// Retryable reports whether a user-initiated retry of the same payload can
// plausibly succeed.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonContentFiltered, ReasonInternal:
		return true
	default:
		return false
	}
}

// Precondition reports whether the reason is a failed send gate the UI should
// re-prompt for.
func (r Reason) Precondition() bool {
	switch r {
	case ReasonRulesNotAccepted, ReasonPINRequired, ReasonPINIncorrect, ReasonTooManyPINFails:
		return true
	default:
		return false
	}
}

// RejectedError is an application-level refusal from the server.
type RejectedError struct {
	Reason  Reason
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", e.Reason, e.Message)
}

// Rejected builds a RejectedError.
func Rejected(reason Reason, msg string) error {
	return &RejectedError{Reason: reason, Message: msg}
}

// AsRejected extracts a RejectedError from err.
func AsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
