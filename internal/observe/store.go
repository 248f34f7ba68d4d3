// Package observe provides a keyed value store whose readers can subscribe to
// changes. Values are treated as immutable snapshots: Set and Update replace
// them, they never mutate in place.
package observe

import "sync"

// Store is a goroutine-safe map of snapshots with per-key and wildcard
// subscribers.
type Store[K comparable, V any] struct {
	mu     sync.RWMutex
	values map[K]V
	subs   map[int]subscriber[K, V]
	next   int
}

type subscriber[K comparable, V any] struct {
	key K
	all bool
	fn  func(K, V)
}

// New creates an empty store.
func New[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		values: make(map[K]V),
		subs:   make(map[int]subscriber[K, V]),
	}
}

// Get returns the snapshot for key.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Keys returns every key currently held, in no particular order.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}

// Set replaces the snapshot for key and notifies subscribers.
func (s *Store[K, V]) Set(key K, v V) {
	s.mu.Lock()
	s.values[key] = v
	fns := s.matching(key)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(key, v)
	}
}

// Update computes a new snapshot from the current one under the store lock,
// so concurrent updates of the same key never lose a write.
func (s *Store[K, V]) Update(key K, fn func(cur V, ok bool) V) V {
	s.mu.Lock()
	cur, ok := s.values[key]
	v := fn(cur, ok)
	s.values[key] = v
	fns := s.matching(key)
	s.mu.Unlock()
	for _, f := range fns {
		f(key, v)
	}
	return v
}

// Delete removes key. Subscribers are not notified.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Subscribe calls fn after every change of key. The returned func cancels.
func (s *Store[K, V]) Subscribe(key K, fn func(K, V)) func() {
	return s.add(subscriber[K, V]{key: key, fn: fn})
}

// SubscribeAll calls fn after every change of any key.
func (s *Store[K, V]) SubscribeAll(fn func(K, V)) func() {
	return s.add(subscriber[K, V]{all: true, fn: fn})
}

func (s *Store[K, V]) add(sub subscriber[K, V]) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// matching collects subscribers for key in registration order. Caller holds mu.
func (s *Store[K, V]) matching(key K) []func(K, V) {
	var fns []func(K, V)
	for i := 0; i < s.next; i++ {
		sub, ok := s.subs[i]
		if ok && (sub.all || sub.key == key) {
			fns = append(fns, sub.fn)
		}
	}
	return fns
}
