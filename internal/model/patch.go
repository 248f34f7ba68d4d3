package model

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/overlay"
)

// SummaryPatch is a pending local change to a chat summary.
type SummaryPatch struct {
	Muted         overlay.Field[bool]
	Archived      overlay.Field[bool]
	Pinned        overlay.Field[bool]
	RulesAccepted overlay.Field[bool]
	ReadUpTo      overlay.Field[int]
}

// Merge implements overlay.Patch.
func (p SummaryPatch) Merge(next SummaryPatch) SummaryPatch {
	return SummaryPatch{
		Muted:         p.Muted.Merge(next.Muted),
		Archived:      p.Archived.Merge(next.Archived),
		Pinned:        p.Pinned.Merge(next.Pinned),
		RulesAccepted: p.RulesAccepted.Merge(next.RulesAccepted),
		ReadUpTo:      p.ReadUpTo.Merge(next.ReadUpTo),
	}
}

// Apply implements overlay.Patch.
func (p SummaryPatch) Apply(s ChatSummary) ChatSummary {
	s.Muted = p.Muted.Or(s.Muted)
	s.Archived = p.Archived.Or(s.Archived)
	s.Pinned = p.Pinned.Or(s.Pinned)
	s.Rules.Accepted = p.RulesAccepted.Or(s.Rules.Accepted)
	if p.ReadUpTo.Set && p.ReadUpTo.Value > s.ReadUpTo {
		s.ReadUpTo = p.ReadUpTo.Value
	}
	return s
}

// ReactionChange is one pending reaction toggle by a user.
type ReactionChange struct {
	Emoji string
	User  string
	Add   bool
}

// MessagePatch is a pending local change to a message: an edit, a deletion
// or a set of reaction toggles.
type MessagePatch struct {
	Content   overlay.Field[Content]
	Deleted   overlay.Field[bool]
	DeletedBy string
	Reactions []ReactionChange
}

// Merge implements overlay.Patch. Reaction changes accumulate, with a later
// change for the same emoji and user replacing the earlier one.
func (p MessagePatch) Merge(next MessagePatch) MessagePatch {
	out := MessagePatch{
		Content:   p.Content.Merge(next.Content),
		Deleted:   p.Deleted.Merge(next.Deleted),
		DeletedBy: p.DeletedBy,
		Reactions: slices.Clone(p.Reactions),
	}
	if next.Deleted.Set {
		out.DeletedBy = next.DeletedBy
	}
	for _, rc := range next.Reactions {
		out.Reactions = slices.DeleteFunc(out.Reactions, func(o ReactionChange) bool {
			return o.Emoji == rc.Emoji && o.User == rc.User
		})
		out.Reactions = append(out.Reactions, rc)
	}
	return out
}

// Apply implements overlay.Patch.
func (p MessagePatch) Apply(m Message) Message {
	m = m.Clone()
	if p.Content.Set {
		m.Content = p.Content.Value
		m.Edited = true
	}
	if p.Deleted.Set {
		m.Deleted = p.Deleted.Value
		if m.Deleted {
			m.DeletedBy = p.DeletedBy
		} else {
			m.DeletedBy = ""
		}
	}
	for _, rc := range p.Reactions {
		m.SetReaction(rc.Emoji, rc.User, rc.Add)
	}
	return m
}
