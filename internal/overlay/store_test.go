package overlay

import (
	"context"
	"errors"
	"testing"
	"time"
)

type doc struct {
	Title string
	Muted bool
}

type docPatch struct {
	Title Field[string]
	Muted Field[bool]
}

func (p docPatch) Merge(next docPatch) docPatch {
	return docPatch{Title: p.Title.Merge(next.Title), Muted: p.Muted.Merge(next.Muted)}
}

func (p docPatch) Apply(d doc) doc {
	d.Title = p.Title.Or(d.Title)
	d.Muted = p.Muted.Or(d.Muted)
	return d
}

func newDocStore() (*Store[string, doc, docPatch], *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	s := New[string, doc, docPatch](0)
	s.SetClock(func() time.Time { return now })
	return s, &now
}

func TestRollbackRestoresServerValue(t *testing.T) {
	s, _ := newDocStore()
	server := doc{Title: "server", Muted: false}

	op := s.Update("a", docPatch{Muted: Some(true)})
	if got, _ := s.Resolve("a", server); !got.Muted || got.Title != "server" {
		t.Fatalf("Resolve = %+v, want muted server doc", got)
	}
	op.Rollback()
	op.Rollback() // idempotent
	if got, visible := s.Resolve("a", server); got != server || !visible {
		t.Errorf("after rollback Resolve = %+v, %v, want %+v", got, visible, server)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestRollbackRestoresPreviousPatch(t *testing.T) {
	s, _ := newDocStore()
	server := doc{Title: "server"}

	s.Update("a", docPatch{Title: Some("first")})
	op := s.Update("a", docPatch{Muted: Some(true)})
	if got, _ := s.Resolve("a", server); got.Title != "first" || !got.Muted {
		t.Fatalf("merged patch = %+v", got)
	}
	op.Rollback()
	if got, _ := s.Resolve("a", server); got.Title != "first" || got.Muted {
		t.Errorf("after rollback = %+v, want only the first patch", got)
	}
}

func TestInterleavedRollbacksWithdrawOnlyTheirOwnPatch(t *testing.T) {
	s, _ := newDocStore()
	server := doc{Title: "server"}

	first := s.Update("a", docPatch{Title: Some("edit1")})
	second := s.Update("a", docPatch{Title: Some("edit2")})

	first.Rollback()
	if got, _ := s.Resolve("a", server); got.Title != "edit2" {
		t.Errorf("after first rollback = %+v, want the pending edit2", got)
	}
	second.Rollback()
	if got, visible := s.Resolve("a", server); got != server || !visible {
		t.Errorf("after both rollbacks = %+v, %v, want %+v", got, visible, server)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}

	// Same for a removal overlapping a patch.
	hide := s.Remove("a")
	mute := s.Update("a", docPatch{Muted: Some(true)})
	hide.Rollback()
	if got, visible := s.Resolve("a", server); !visible || !got.Muted {
		t.Errorf("after removal rollback = %+v, %v, want visible and muted", got, visible)
	}
	mute.Rollback()
	if got, visible := s.Resolve("a", server); got != server || !visible {
		t.Errorf("after both rollbacks = %+v, %v, want %+v", got, visible, server)
	}
}

func TestRemoveHidesUntilRollback(t *testing.T) {
	s, _ := newDocStore()
	op := s.Remove("a")
	if _, visible := s.Resolve("a", doc{}); visible {
		t.Error("removed key still visible")
	}
	op.Rollback()
	if _, visible := s.Resolve("a", doc{}); !visible {
		t.Error("rolled back removal still hidden")
	}
}

func TestExpiredEntriesExcludedFromReads(t *testing.T) {
	s, now := newDocStore()
	server := doc{Title: "server"}
	s.Update("a", docPatch{Title: Some("local")})
	s.Update("b", docPatch{Title: Some("local")})

	*now = now.Add(DefaultTTL)
	if got, _ := s.Resolve("a", server); got != server {
		t.Errorf("expired overlay applied: %+v", got)
	}
	if _, ok := s.Pending("b"); ok {
		t.Error("expired patch still pending")
	}
	s.Update("c", docPatch{})
	if n := s.Prune(); n != 0 {
		t.Errorf("Prune = %d, want 0 (expired entries already dropped lazily)", n)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestDoRollsBackOnFailure(t *testing.T) {
	s, _ := newDocStore()
	server := doc{Title: "server"}
	apply := func() Op { return s.Update("a", docPatch{Muted: Some(true)}) }

	err := Do(context.Background(), apply, func(context.Context) error { return errors.New("rejected") })
	if err == nil {
		t.Fatal("Do should return the call error")
	}
	if got, _ := s.Resolve("a", server); got != server {
		t.Errorf("after failed Do = %+v, want server value", got)
	}

	func() {
		defer func() { _ = recover() }()
		_ = Do(context.Background(), apply, func(context.Context) error { panic("boom") })
	}()
	if got, _ := s.Resolve("a", server); got != server {
		t.Errorf("after panicking Do = %+v, want server value", got)
	}

	if err := Do(context.Background(), apply, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Resolve("a", server); !got.Muted {
		t.Error("successful Do must keep the overlay")
	}
}

func TestOpsRollBackNewestFirst(t *testing.T) {
	var order []int
	ops := Ops{
		newOp(func() { order = append(order, 1) }),
		newOp(func() { order = append(order, 2) }),
	}
	ops.Rollback()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("order = %v, want [2 1]", order)
	}

	called := false
	Op{}.Then(func() { called = true }).Rollback()
	if !called {
		t.Error("Then callback not run on zero Op")
	}
}
