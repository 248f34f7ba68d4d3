package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ChatKind distinguishes direct, group and channel conversations.
type ChatKind string

const (
	Direct  ChatKind = "direct"
	Group   ChatKind = "group"
	Channel ChatKind = "channel"
)

// ChatID identifies a conversation. It is comparable and safe to use as a map key.
type ChatID struct {
	Kind ChatKind
	ID   string
}

func (c ChatID) String() string {
	return string(c.Kind) + ":" + c.ID
}

// ParseChatID parses the "kind:id" form produced by ChatID.String.
func ParseChatID(s string) (ChatID, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ChatID{}, fmt.Errorf("invalid chat id %q: want kind:id", s)
	}
	switch ChatKind(kind) {
	case Direct, Group, Channel:
	default:
		return ChatID{}, fmt.Errorf("invalid chat kind %q", kind)
	}
	return ChatID{Kind: ChatKind(kind), ID: id}, nil
}

// MessageContext is a conversation plus an optional thread root. It is the
// unit of independent timeline pagination.
type MessageContext struct {
	Chat       ChatID
	ThreadRoot int
	InThread   bool
}

// Main returns the main (non-thread) timeline of a chat.
func Main(chat ChatID) MessageContext {
	return MessageContext{Chat: chat}
}

// Thread returns the thread timeline rooted at the given message index.
func Thread(chat ChatID, root int) MessageContext {
	return MessageContext{Chat: chat, ThreadRoot: root, InThread: true}
}

// IsThread reports whether the context addresses a thread sub-timeline.
func (m MessageContext) IsThread() bool {
	return m.InThread
}

func (m MessageContext) String() string {
	if !m.InThread {
		return m.Chat.String()
	}
	return m.Chat.String() + "/" + strconv.Itoa(m.ThreadRoot)
}

// ParseMessageContext parses the form produced by MessageContext.String.
func ParseMessageContext(s string) (MessageContext, error) {
	chatPart, rootPart, hasRoot := strings.Cut(s, "/")
	chat, err := ParseChatID(chatPart)
	if err != nil {
		return MessageContext{}, err
	}
	if !hasRoot {
		return Main(chat), nil
	}
	root, err := strconv.Atoi(rootPart)
	if err != nil {
		return MessageContext{}, fmt.Errorf("invalid thread root %q: %w", rootPart, err)
	}
	return Thread(chat, root), nil
}

// Rules describes chat or community rules a sender must accept.
type Rules struct {
	Enabled  bool
	Version  int
	Accepted bool
}

// NeedsAcceptance reports whether the rules must be accepted before sending.
func (r Rules) NeedsAcceptance() bool {
	return r.Enabled && !r.Accepted
}

// ChatSummary is the server's view of a conversation as returned by get-updates.
type ChatSummary struct {
	ID                 ChatID
	Shard              string // backing shard; chats sharing one can be fetched together
	LatestEventIndex   int    // -1 for an empty conversation
	LatestMessage      *Event
	LatestMessageIndex int // -1 when there are no messages
	ReadUpTo           int // server-side read position, -1 when nothing read
	LastUpdated        int64
	Rules              Rules
	Muted              bool
	Archived           bool
	Pinned             bool
	Frozen             bool
}

// Empty reports whether the conversation has no events at all.
func (s ChatSummary) Empty() bool {
	return s.LatestEventIndex < 0
}
