package model

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/overlay"
)

func TestMessageContextRoundTrip(t *testing.T) {
	chat := ChatID{Kind: Channel, ID: "news"}
	for _, mctx := range []MessageContext{Main(chat), Thread(chat, 42)} {
		got, err := ParseMessageContext(mctx.String())
		if err != nil {
			t.Fatalf("ParseMessageContext(%q): %v", mctx.String(), err)
		}
		if got != mctx {
			t.Errorf("round trip = %+v, want %+v", got, mctx)
		}
	}
	for _, bad := range []string{"", "group", "bogus:x", "group:x/abc"} {
		if _, err := ParseMessageContext(bad); err == nil {
			t.Errorf("ParseMessageContext(%q) should fail", bad)
		}
	}
}

func TestMessagePatchMergeKeepsLatestReaction(t *testing.T) {
	p := MessagePatch{Reactions: []ReactionChange{{Emoji: "👍", User: "me", Add: true}}}
	p = p.Merge(MessagePatch{Reactions: []ReactionChange{{Emoji: "🎉", User: "me", Add: true}}})
	p = p.Merge(MessagePatch{Reactions: []ReactionChange{{Emoji: "👍", User: "me", Add: false}}})

	if len(p.Reactions) != 2 {
		t.Fatalf("reactions = %+v, want 2 changes", p.Reactions)
	}
	msg := Message{ID: "m", Reactions: []Reaction{{Emoji: "👍", Users: []string{"me", "bob"}}}}
	got := p.Apply(msg)
	if got.HasReaction("👍", "me") || !got.HasReaction("👍", "bob") || !got.HasReaction("🎉", "me") {
		t.Errorf("applied reactions = %+v", got.Reactions)
	}
	if !msg.HasReaction("👍", "me") {
		t.Error("Apply mutated its input")
	}
}

func TestMessagePatchEditAndDelete(t *testing.T) {
	msg := Message{ID: "m", Content: Text("hi")}
	p := MessagePatch{Content: overlay.Some(Text("hello"))}.
		Merge(MessagePatch{Deleted: overlay.Some(true), DeletedBy: "me"})

	got := p.Apply(msg)
	if got.Content.Text != "hello" || !got.Edited {
		t.Errorf("edit not applied: %+v", got)
	}
	if !got.Deleted || got.DeletedBy != "me" {
		t.Errorf("delete not applied: %+v", got)
	}

	undo := p.Merge(MessagePatch{Deleted: overlay.Some(false)})
	if got := undo.Apply(msg); got.Deleted || got.DeletedBy != "" {
		t.Errorf("undelete not applied: %+v", got)
	}
}

func TestSummaryPatchNeverLowersReadPosition(t *testing.T) {
	s := ChatSummary{ReadUpTo: 8, Rules: Rules{Enabled: true, Version: 2}}
	p := SummaryPatch{ReadUpTo: overlay.Some(5), Muted: overlay.Some(true), RulesAccepted: overlay.Some(true)}

	got := p.Apply(s)
	if got.ReadUpTo != 8 {
		t.Errorf("ReadUpTo = %d, want 8", got.ReadUpTo)
	}
	if !got.Muted || got.Rules.NeedsAcceptance() {
		t.Errorf("patch not applied: %+v", got)
	}
	if !s.Rules.NeedsAcceptance() {
		t.Error("server value changed")
	}
}
