package overlay

import (
	"sync"
	"time"
)

// DefaultTTL is how long a pending overlay is trusted before server state is
// assumed to have superseded it.
const DefaultTTL = 30 * time.Second

// Patch is a partial update of T. Merge combines two pending patches (the
// argument is newer); Apply computes "server value ⊕ patch" without
// mutating its input.
type Patch[T any, P any] interface {
	Merge(next P) P
	Apply(server T) T
}

// layer is one pending mutation. Layers of a key are folded oldest first,
// so rolling one back leaves the others intact.
type layer[P any] struct {
	id      uint64
	patch   P
	hasData bool
	removed bool
}

type entry[P any] struct {
	layers  []layer[P]
	updated time.Time
}

// Store holds short-lived overlays keyed by entity. Reads are computed
// lazily and never written back into server state.
type Store[K comparable, T any, P Patch[T, P]] struct {
	mu      sync.Mutex
	entries map[K]entry[P]
	nextID  uint64
	ttl     time.Duration
	now     func() time.Time
}

// New creates an overlay store. A zero ttl uses DefaultTTL.
func New[K comparable, T any, P Patch[T, P]](ttl time.Duration) *Store[K, T, P] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[K, T, P]{
		entries: make(map[K]entry[P]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *Store[K, T, P]) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Update layers patch over the pending overlay for key and refreshes its
// timestamp. The returned Op withdraws this patch only; patches layered
// before or after it stay pending.
func (s *Store[K, T, P]) Update(key K, patch P) Op {
	return s.push(key, layer[P]{patch: patch, hasData: true})
}

// Remove records that key has been removed locally; reads report it as not
// visible until the overlay is rolled back or expires.
func (s *Store[K, T, P]) Remove(key K) Op {
	return s.push(key, layer[P]{removed: true})
}

func (s *Store[K, T, P]) push(key K, l layer[P]) Op {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.live(key)
	s.nextID++
	l.id = s.nextID
	e.layers = append(e.layers, l)
	e.updated = s.now()
	s.entries[key] = e
	return s.withdrawOp(key, l.id)
}

// Delete drops any overlay for key, typically once the server has caught up.
func (s *Store[K, T, P]) Delete(key K) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Pending returns the live patch for key, if any.
func (s *Store[K, T, P]) Pending(key K) (P, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		var zero P
		return zero, false
	}
	patch, hasData, _ := s.fold(e)
	return patch, hasData
}

// Resolve returns server merged with the live overlay for key. visible is
// false when the key has been removed locally.
func (s *Store[K, T, P]) Resolve(key K, server T) (value T, visible bool) {
	s.mu.Lock()
	e, ok := s.live(key)
	if !ok {
		s.mu.Unlock()
		return server, true
	}
	patch, hasData, removed := s.fold(e)
	s.mu.Unlock()
	if removed {
		return server, false
	}
	if hasData {
		return patch.Apply(server), true
	}
	return server, true
}

// Prune drops every expired overlay and returns how many were dropped.
func (s *Store[K, T, P]) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for k, e := range s.entries {
		if !e.updated.After(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of live overlays.
func (s *Store[K, T, P]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if _, ok := s.live(k); ok {
			n++
		}
	}
	return n
}

// live returns the entry for key unless it has expired. Caller holds mu.
func (s *Store[K, T, P]) live(key K) (entry[P], bool) {
	e, ok := s.entries[key]
	if !ok {
		return e, false
	}
	if !e.updated.After(s.now().Add(-s.ttl)) {
		delete(s.entries, key)
		return entry[P]{}, false
	}
	return e, true
}

// fold merges the layers of e, oldest first. Caller holds mu.
func (s *Store[K, T, P]) fold(e entry[P]) (patch P, hasData, removed bool) {
	for _, l := range e.layers {
		if l.removed {
			removed = true
		}
		if !l.hasData {
			continue
		}
		if hasData {
			patch = patch.Merge(l.patch)
		} else {
			patch = l.patch
			hasData = true
		}
	}
	return patch, hasData, removed
}

// withdrawOp removes layer id from key. An entry left without layers is
// dropped; the timestamp of the remaining layers is kept.
func (s *Store[K, T, P]) withdrawOp(key K, id uint64) Op {
	return newOp(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e, ok := s.entries[key]
		if !ok {
			return
		}
		kept := e.layers[:0:0]
		for _, l := range e.layers {
			if l.id != id {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(s.entries, key)
			return
		}
		e.layers = kept
		s.entries[key] = e
	})
}
