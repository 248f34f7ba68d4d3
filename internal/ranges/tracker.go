package ranges

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/model"
)

// Verdict is the outcome of checking a fetched page against what is loaded.
type Verdict int

const (
	Accept       Verdict = iota // page touches an outer boundary or fills every gap it touches
	AcceptReset                 // nothing loaded yet, page starts a fresh view
	RejectGap                   // page would leave a partially filled hole
)

func (v Verdict) Accepted() bool {
	return v != RejectGap
}

type state struct {
	loaded  Set
	expired Set
}

// Tracker records, per message context, which event indices are resident in
// memory and which have been evicted upstream. It is a process-wide keyed
// store; only the merge path should call its mutating methods.
type Tracker struct {
	mu     sync.RWMutex
	states map[model.MessageContext]*state
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[model.MessageContext]*state)}
}

func (t *Tracker) get(ctx model.MessageContext) *state {
	st, ok := t.states[ctx]
	if !ok {
		st = &state{}
		t.states[ctx] = st
	}
	return st
}

// Loaded returns the resident intervals for ctx.
func (t *Tracker) Loaded(ctx model.MessageContext) []model.Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[ctx]; ok {
		return st.loaded.Ranges()
	}
	return nil
}

// Expired returns the intervals evicted upstream for ctx.
func (t *Tracker) Expired(ctx model.MessageContext) []model.Range {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[ctx]; ok {
		return st.expired.Ranges()
	}
	return nil
}

// IsExpired reports whether index i has been evicted upstream.
func (t *Tracker) IsExpired(ctx model.MessageContext, i int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[ctx]
	return ok && st.expired.Contains(i)
}

// Active reports whether ctx has any resident events.
func (t *Tracker) Active(ctx model.MessageContext) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[ctx]
	return ok && !st.loaded.Empty()
}

// MarkLoaded records [lo, hi] as resident.
func (t *Tracker) MarkLoaded(ctx model.MessageContext, lo, hi int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(ctx).loaded.Add(lo, hi)
}

// MarkExpired records [lo, hi] as evicted upstream: known, but not resident.
func (t *Tracker) MarkExpired(ctx model.MessageContext, lo, hi int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(ctx).expired.Add(lo, hi)
}

// Earliest returns the lowest resident index.
func (t *Tracker) Earliest(ctx model.MessageContext) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[ctx]; ok {
		return st.loaded.Lowest()
	}
	return 0, false
}

// Highest returns the highest resident, server-confirmed index.
func (t *Tracker) Highest(ctx model.MessageContext) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[ctx]; ok {
		return st.loaded.Highest()
	}
	return 0, false
}

// Reset forgets everything known about ctx. Used on an explicit timeline reset.
func (t *Tracker) Reset(ctx model.MessageContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, ctx)
}

// Contiguous checks whether a page spanning [lo, hi] may be merged into ctx.
// Coverage is loaded ∪ expired. A page is accepted when it extends coverage
// at either outer edge, or when every interior gap it touches is filled
// completely. Anything else would leave a hole inside the timeline.
func (t *Tracker) Contiguous(ctx model.MessageContext, lo, hi int) Verdict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[ctx]
	if !ok || st.loaded.Empty() {
		return AcceptReset
	}
	cov := st.loaded.Union(&st.expired)
	first, _ := cov.Lowest()
	last, _ := cov.Highest()

	if lo < first && hi >= first-1 {
		return Accept
	}
	if hi > last && lo <= last+1 {
		return Accept
	}
	if lo < first || hi > last {
		return RejectGap
	}
	for _, g := range cov.Gaps() {
		touches := lo <= g.Hi && hi >= g.Lo
		if touches && (lo > g.Lo || hi < g.Hi) {
			return RejectGap
		}
	}
	return Accept
}
