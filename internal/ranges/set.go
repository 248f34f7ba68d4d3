package ranges

import (
	"slices"

	"github.com/matheus3301/chatsync/internal/model"
)

// Set is a sorted list of disjoint closed intervals. Adjacent intervals are
// always merged, so [0,4] and [5,9] are held as [0,9].
type Set struct {
	rs []model.Range
}

// Add inserts [lo, hi] and coalesces overlapping or adjacent intervals.
func (s *Set) Add(lo, hi int) {
	if hi < lo {
		return
	}
	out := make([]model.Range, 0, len(s.rs)+1)
	cur := model.Range{Lo: lo, Hi: hi}
	placed := false
	for _, r := range s.rs {
		switch {
		case r.Hi+1 < cur.Lo:
			out = append(out, r)
		case cur.Hi+1 < r.Lo:
			if !placed {
				out = append(out, cur)
				placed = true
			}
			out = append(out, r)
		default:
			cur.Lo = min(cur.Lo, r.Lo)
			cur.Hi = max(cur.Hi, r.Hi)
		}
	}
	if !placed {
		out = append(out, cur)
	}
	s.rs = out
}

// Union returns a new set holding both s and other.
func (s *Set) Union(other *Set) *Set {
	u := &Set{rs: slices.Clone(s.rs)}
	for _, r := range other.rs {
		u.Add(r.Lo, r.Hi)
	}
	return u
}

// Ranges returns a copy of the intervals in ascending order.
func (s *Set) Ranges() []model.Range {
	return slices.Clone(s.rs)
}

// Empty reports whether the set holds no interval.
func (s *Set) Empty() bool {
	return len(s.rs) == 0
}

// Contains reports whether i lies inside any interval.
func (s *Set) Contains(i int) bool {
	for _, r := range s.rs {
		if r.Contains(i) {
			return true
		}
	}
	return false
}

// Covers reports whether [lo, hi] lies inside a single interval.
func (s *Set) Covers(lo, hi int) bool {
	for _, r := range s.rs {
		if lo >= r.Lo && hi <= r.Hi {
			return true
		}
	}
	return false
}

// Lowest returns the smallest index held.
func (s *Set) Lowest() (int, bool) {
	if len(s.rs) == 0 {
		return 0, false
	}
	return s.rs[0].Lo, true
}

// Highest returns the largest index held.
func (s *Set) Highest() (int, bool) {
	if len(s.rs) == 0 {
		return 0, false
	}
	return s.rs[len(s.rs)-1].Hi, true
}

// Gaps returns the holes between consecutive intervals.
func (s *Set) Gaps() []model.Range {
	var gaps []model.Range
	for i := 1; i < len(s.rs); i++ {
		gaps = append(gaps, model.Range{Lo: s.rs[i-1].Hi + 1, Hi: s.rs[i].Lo - 1})
	}
	return gaps
}
