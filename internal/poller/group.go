package poller

import (
	"context"
	"sync"
)

// Group keeps at most one live poller per job key.
type Group[K comparable] struct {
	mu      sync.Mutex
	pollers map[K]*Poller
}

// NewGroup creates an empty group.
func NewGroup[K comparable]() *Group[K] {
	return &Group[K]{pollers: make(map[K]*Poller)}
}

// Ensure starts the poller built by mk for key unless a live one is already
// registered. It reports whether a new poller was started.
func (g *Group[K]) Ensure(ctx context.Context, key K, mk func() *Poller) bool {
	g.mu.Lock()
	if p, ok := g.pollers[key]; ok && !p.Stopped() {
		g.mu.Unlock()
		return false
	}
	p := mk()
	g.pollers[key] = p
	g.mu.Unlock()

	p.Start(ctx)
	return true
}

// Remove stops and forgets the poller for key.
func (g *Group[K]) Remove(key K) {
	g.mu.Lock()
	p, ok := g.pollers[key]
	delete(g.pollers, key)
	g.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// Has reports whether a live poller is registered for key.
func (g *Group[K]) Has(key K) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pollers[key]
	return ok && !p.Stopped()
}

// Keys returns the keys of every registered poller.
func (g *Group[K]) Keys() []K {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]K, 0, len(g.pollers))
	for k := range g.pollers {
		out = append(out, k)
	}
	return out
}

// StopAll stops every poller and empties the group.
func (g *Group[K]) StopAll() {
	g.mu.Lock()
	ps := g.pollers
	g.pollers = make(map[K]*Poller)
	g.mu.Unlock()
	for _, p := range ps {
		p.Stop()
	}
}
