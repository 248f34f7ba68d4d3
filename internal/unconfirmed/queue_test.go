package unconfirmed

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

var ctx = model.Main(model.ChatID{Kind: model.Group, ID: "g"})

func event(idx int, id string) model.Event {
	return model.Event{Index: idx, Kind: model.KindMessage, Message: &model.Message{Index: idx, ID: id}}
}

func TestAddAcceptDelete(t *testing.T) {
	q := New()
	q.Add(ctx, event(10, "a"), Local)
	q.Add(ctx, model.Event{Index: 11, Kind: model.KindMemberJoined}, Local) // no id, ignored

	if !q.Contains(ctx, "a") {
		t.Fatal("entry missing after Add")
	}
	if !q.MarkAccepted(ctx, "a") {
		t.Error("MarkAccepted(a) = false")
	}
	if e, _ := q.Get(ctx, "a"); !e.Accepted {
		t.Error("accepted flag not set")
	}
	if q.MarkAccepted(ctx, "missing") {
		t.Error("MarkAccepted on unknown id = true")
	}
	if !q.Delete(ctx, "a") || q.Delete(ctx, "a") {
		t.Error("Delete should succeed exactly once")
	}
	if len(q.Entries(ctx)) != 0 {
		t.Error("queue not empty")
	}
}

func TestPeerCannotRemoveLocalEntry(t *testing.T) {
	q := New()
	q.Add(ctx, event(10, "a"), Local)
	if q.DeleteOwned(ctx, "a", Peer) {
		t.Error("peer removed a local entry")
	}
	if !q.DeleteOwned(ctx, "a", Local) {
		t.Error("local owner could not remove its entry")
	}
}

func TestEntriesOrderedAndHighest(t *testing.T) {
	q := New()
	q.Add(ctx, event(12, "c"), Local)
	q.Add(ctx, event(10, "a"), Local)
	q.Add(ctx, event(11, "b"), Peer)

	var ids []string
	for _, e := range q.Entries(ctx) {
		ids = append(ids, e.Event.MessageID())
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("order = %v, want [a b c]", ids)
	}
	ev, msg, ok := q.Highest(ctx)
	if !ok || ev != 12 || msg != 12 {
		t.Errorf("Highest = %d, %d, %v, want 12, 12, true", ev, msg, ok)
	}
}

func TestPruneOriginOnlyDropsStaleEntriesOfThatOrigin(t *testing.T) {
	q := New()
	now := time.Unix(1_700_000_000, 0)
	q.SetClock(func() time.Time { return now })
	q.Add(ctx, event(10, "old-peer"), Peer)
	q.Add(ctx, event(11, "local"), Local)
	now = now.Add(time.Minute)
	q.Add(ctx, event(12, "new-peer"), Peer)

	if n := q.PruneOrigin(Peer, 30*time.Second); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if q.Contains(ctx, "old-peer") || !q.Contains(ctx, "local") || !q.Contains(ctx, "new-peer") {
		t.Error("wrong entries pruned")
	}
}
