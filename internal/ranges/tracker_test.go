package ranges

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/model"
)

var ctx = model.Main(model.ChatID{Kind: model.Direct, ID: "alice"})

func TestSetMergesAdjacentAndOverlapping(t *testing.T) {
	var s Set
	s.Add(10, 19)
	s.Add(0, 4)
	// Adjacent on both sides.
	s.Add(5, 9)
	s.Add(30, 39)
	// Overlapping.
	s.Add(35, 45)
	// Empty, ignored.
	s.Add(7, 3)

	want := []model.Range{{Lo: 0, Hi: 19}, {Lo: 30, Hi: 45}}
	got := s.Ranges()
	if len(got) != len(want) {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range %d = %v, want %v", i, got[i], want[i])
		}
	}
	if gaps := s.Gaps(); len(gaps) != 1 || gaps[0] != (model.Range{Lo: 20, Hi: 29}) {
		t.Errorf("gaps = %v, want [[20 29]]", gaps)
	}
	if !s.Covers(31, 45) || s.Covers(15, 31) {
		t.Error("Covers wrong")
	}
}

func TestContiguity(t *testing.T) {
	tr := NewTracker()
	if v := tr.Contiguous(ctx, 50, 59); v != AcceptReset {
		t.Errorf("empty tracker verdict = %v, want AcceptReset", v)
	}

	tr.MarkLoaded(ctx, 0, 9)
	tr.MarkLoaded(ctx, 30, 39)
	tr.MarkExpired(ctx, 40, 49)

	tests := []struct {
		lo, hi int
		want   Verdict
	}{
		{20, 29, RejectGap},
		{10, 29, Accept},
		{5, 35, Accept},
		{15, 25, RejectGap},
		{50, 55, Accept}, // extends past the expired range
		{52, 55, RejectGap},
		{-5, -1, Accept},
		{-9, -3, RejectGap},
		{3, 7, Accept},
	}
	for _, tt := range tests {
		if v := tr.Contiguous(ctx, tt.lo, tt.hi); v != tt.want {
			t.Errorf("Contiguous(%d, %d) = %v, want %v", tt.lo, tt.hi, v, tt.want)
		}
	}
}

func TestTrackerBoundsAndReset(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Earliest(ctx); ok {
		t.Error("Earliest on empty tracker")
	}
	tr.MarkLoaded(ctx, 10, 19)
	tr.MarkLoaded(ctx, 20, 24)
	if lo, _ := tr.Earliest(ctx); lo != 10 {
		t.Errorf("Earliest = %d, want 10", lo)
	}
	if hi, _ := tr.Highest(ctx); hi != 24 {
		t.Errorf("Highest = %d, want 24", hi)
	}
	if !tr.Active(ctx) {
		t.Error("Active = false")
	}
	tr.MarkExpired(ctx, 0, 9)
	if !tr.IsExpired(ctx, 3) || tr.IsExpired(ctx, 10) {
		t.Error("IsExpired wrong")
	}
	tr.Reset(ctx)
	if tr.Active(ctx) || len(tr.Expired(ctx)) != 0 {
		t.Error("Reset left state behind")
	}
}
