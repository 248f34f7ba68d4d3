package env

import (
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the process-wide visibility and connectivity state.
type State struct {
	Background bool
	Offline    bool
}

// Environment is the explicit process context passed to schedulers and the
// send pipeline. Listeners are called synchronously on every change, in
// registration order, so a poller can reschedule before the setter returns.
type Environment struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	next      int
	bus       *bus.Bus
}

// New creates an environment in the foreground and online.
func New(b *bus.Bus) *Environment {
	return &Environment{
		listeners: make(map[int]func(State)),
		bus:       b,
	}
}

// State returns the current state.
func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetBackground records that the app moved to or from the background.
func (e *Environment) SetBackground(background bool) {
	e.update(func(s *State) { s.Background = background })
}

// SetOffline records a network connectivity change.
func (e *Environment) SetOffline(offline bool) {
	e.update(func(s *State) { s.Offline = offline })
}

func (e *Environment) update(fn func(*State)) {
	e.mu.Lock()
	prev := e.state
	fn(&e.state)
	cur := e.state
	if cur == prev {
		e.mu.Unlock()
		return
	}
	ls := make([]func(State), 0, len(e.listeners))
	for i := 0; i < e.next; i++ {
		if l, ok := e.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	e.mu.Unlock()

	for _, l := range ls {
		l(cur)
	}
	e.bus.Emit(bus.EnvChanged, cur)
}

// Subscribe registers fn for state changes and returns an unsubscribe func.
func (e *Environment) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}
