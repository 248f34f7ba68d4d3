package model

import "slices"

// EventKind is the variant tag of an Event payload.
type EventKind string

const (
	KindMessage         EventKind = "message"
	KindMemberJoined    EventKind = "member_joined"
	KindMemberLeft      EventKind = "member_left"
	KindMetadataChanged EventKind = "metadata_changed"
)

// Event is an immutable, server-issued timeline record. Index is unique and
// monotonic within its MessageContext.
type Event struct {
	Index     int
	Timestamp int64
	Kind      EventKind
	Message   *Message // set when Kind == KindMessage
	Member    string   `json:",omitempty"` // membership events
	Metadata  string   `json:",omitempty"` // metadata events
}

// IsMessage reports whether the event carries a message payload.
func (e Event) IsMessage() bool {
	return e.Kind == KindMessage && e.Message != nil
}

// MessageID returns the stable message id, or "" for non-message events.
func (e Event) MessageID() string {
	if !e.IsMessage() {
		return ""
	}
	return e.Message.ID
}

// Clone returns a deep copy so callers can patch without aliasing stored state.
func (e Event) Clone() Event {
	if e.Message != nil {
		m := e.Message.Clone()
		e.Message = &m
	}
	return e
}

// ContentKind tags message content.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentTransfer ContentKind = "transfer"
	ContentDeleted  ContentKind = "deleted"
)

// Transfer is a value-transfer payload. Its presence gates sends behind the PIN check.
type Transfer struct {
	Token     string
	Amount    uint64
	Recipient string
}

// Content is the body of a message.
type Content struct {
	Kind     ContentKind
	Text     string    `json:",omitempty"`
	Transfer *Transfer `json:",omitempty"`
}

// IsTransfer reports whether the content moves value.
func (c Content) IsTransfer() bool {
	return c.Kind == ContentTransfer && c.Transfer != nil
}

// Text builds plain text content.
func Text(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// Reaction is one emoji and the users that applied it.
type Reaction struct {
	Emoji string
	Users []string
}

// Message is the payload of a message-kind event.
type Message struct {
	Index     int // message-only monotonic counter
	ID        string
	Sender    string
	Content   Content
	Reactions []Reaction `json:",omitempty"`
	Edited    bool       `json:",omitempty"`
	Deleted   bool       `json:",omitempty"`
	DeletedBy string     `json:",omitempty"`
	Partial   bool       `json:",omitempty"` // content must be rehydrated before display
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Content.Transfer != nil {
		t := *m.Content.Transfer
		m.Content.Transfer = &t
	}
	if m.Reactions != nil {
		rs := make([]Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			rs[i] = Reaction{Emoji: r.Emoji, Users: slices.Clone(r.Users)}
		}
		m.Reactions = rs
	}
	return m
}

// HasReaction reports whether user has applied emoji.
func (m Message) HasReaction(emoji, user string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji {
			return slices.Contains(r.Users, user)
		}
	}
	return false
}

// SetReaction adds or removes user's emoji, dropping emptied reactions.
func (m *Message) SetReaction(emoji, user string, add bool) {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		has := slices.Contains(r.Users, user)
		switch {
		case add && !has:
			r.Users = append(r.Users, user)
		case !add && has:
			r.Users = slices.DeleteFunc(r.Users, func(u string) bool { return u == user })
			if len(r.Users) == 0 {
				m.Reactions = slices.Delete(m.Reactions, i, i+1)
			}
		}
		return
	}
	if add {
		m.Reactions = append(m.Reactions, Reaction{Emoji: emoji, Users: []string{user}})
	}
}

// Range is a closed interval of event indices.
type Range struct {
	Lo int
	Hi int
}

// Len returns the number of indices covered.
func (r Range) Len() int {
	if r.Hi < r.Lo {
		return 0
	}
	return r.Hi - r.Lo + 1
}

// Contains reports whether i lies inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.Lo && i <= r.Hi
}
