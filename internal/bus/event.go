package bus

import (
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Kind tags an event. Kinds are dotted so subscribers can filter by prefix.
type Kind string

const (
	ChatUpdated         Kind = "chat.updated"          // ChatUpdate
	ChatSummaryUpdated  Kind = "chat.summary_updated"  // ChatUpdate
	ChatSettingsChanged Kind = "chat.settings_changed" // ChatUpdate

	MessageSending    Kind = "message.sending"     // MessageRef
	MessageAccepted   Kind = "message.accepted"    // MessageRef
	MessageSent       Kind = "message.sent"        // MessageRef
	MessageSendFailed Kind = "message.send_failed" // SendFailure
	MessageRetrying   Kind = "message.retrying"    // MessageRef

	SendStateChanged Kind = "send.state_changed" // StateChange

	PeerTyping Kind = "peer.typing" // Typing
	PeerRead   Kind = "peer.read"   // ReadReceipt

	EnvChanged Kind = "env.changed" // env.State

	PrimerBatch Kind = "primer.batch" // PrimerBatchDone
)

// Event is a published notification.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// ChatUpdate announces a change to a context's visible timeline or summary.
type ChatUpdate struct {
	Context model.MessageContext
}

// MessageRef points at one message in a context.
type MessageRef struct {
	Context   model.MessageContext
	MessageID string
}

// SendFailure describes a failed send.
type SendFailure struct {
	Context   model.MessageContext
	MessageID string
	Reason    string
	Retryable bool
}

// StateChange reports a send pipeline transition for one message.
type StateChange struct {
	MessageID string
	From      string
	To        string
}

// Typing reports a peer starting or stopping typing.
type Typing struct {
	Context model.MessageContext
	User    string
	Active  bool
}

// ReadReceipt reports a peer's read position.
type ReadReceipt struct {
	Chat         model.ChatID
	User         string
	MessageIndex int
}

// PrimerBatchDone reports a finished cache primer batch.
type PrimerBatchDone struct {
	Shard  string
	Primed int
	Failed int
}
