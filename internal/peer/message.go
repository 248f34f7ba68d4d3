package peer

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/sugawarayuuta/sonnet"
)

// Kind is the variant tag of a peer message.
type Kind string

const (
	MessageSent      Kind = "message_sent"
	ReactionAdded    Kind = "reaction_added"
	ReactionRemoved  Kind = "reaction_removed"
	MessageDeleted   Kind = "message_deleted"
	MessageUndeleted Kind = "message_undeleted"
	UserRead         Kind = "user_read"
	TypingStarted    Kind = "typing_started"
	TypingStopped    Kind = "typing_stopped"
)

// Message is an unauthenticated hint from another client. Nothing in it is
// trusted beyond the next poll.
type Message struct {
	Kind         Kind         `json:"kind"`
	From         string       `json:"from,omitempty"`
	Context      string       `json:"context"`
	Event        *model.Event `json:"event,omitempty"`
	MessageID    string       `json:"message_id,omitempty"`
	Emoji        string       `json:"emoji,omitempty"`
	MessageIndex int          `json:"message_index,omitempty"`
}

// MessageContext parses the addressed context.
func (m Message) MessageContext() (model.MessageContext, error) {
	return model.ParseMessageContext(m.Context)
}

// Sent builds a message_sent hint for a confirmed local event.
func Sent(mctx model.MessageContext, evt model.Event) Message {
	e := evt.Clone()
	return Message{Kind: MessageSent, Context: mctx.String(), Event: &e, MessageID: evt.MessageID()}
}

// Reaction builds a reaction_added or reaction_removed hint.
func Reaction(mctx model.MessageContext, messageID, emoji string, add bool) Message {
	kind := ReactionRemoved
	if add {
		kind = ReactionAdded
	}
	return Message{Kind: kind, Context: mctx.String(), MessageID: messageID, Emoji: emoji}
}

// Deleted builds a message_deleted or message_undeleted hint.
func Deleted(mctx model.MessageContext, messageID string, deleted bool) Message {
	kind := MessageUndeleted
	if deleted {
		kind = MessageDeleted
	}
	return Message{Kind: kind, Context: mctx.String(), MessageID: messageID}
}

// Read builds a user_read hint.
func Read(chat model.ChatID, messageIndex int) Message {
	return Message{Kind: UserRead, Context: model.Main(chat).String(), MessageIndex: messageIndex}
}

// Typing builds a typing_started or typing_stopped hint.
func Typing(mctx model.MessageContext, active bool) Message {
	kind := TypingStopped
	if active {
		kind = TypingStarted
	}
	return Message{Kind: kind, Context: mctx.String()}
}

// Envelope is the frame exchanged with the relay hub. To lists the
// recipients of an outbound frame; an empty list means every peer watching
// the chat.
type Envelope struct {
	To      []string `json:"to,omitempty"`
	Chat    string   `json:"chat,omitempty"`
	Message *Message `json:"message,omitempty"`
	// Watch subscribes the connection to the listed chats.
	Watch []string `json:"watch,omitempty"`
}

// Encode serializes an envelope.
func Encode(env Envelope) ([]byte, error) {
	return sonnet.Marshal(env)
}

// Decode parses an envelope.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := sonnet.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
