package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is the sync engine's runtime state as reported to clients.
type State string

const (
	Booting  State = "BOOTING"
	Syncing  State = "SYNCING"
	Ready    State = "READY"
	Degraded State = "DEGRADED" // get-updates failing, serving cached state
	Offline  State = "OFFLINE"
	Stopped  State = "STOPPED"
)

// Kind is published on the bus for every transition.
const Kind bus.Kind = "sync.status_changed"

var validTransitions = map[State][]State{
	Booting:  {Syncing, Offline, Stopped},
	Syncing:  {Ready, Degraded, Offline, Stopped},
	Ready:    {Degraded, Offline, Stopped},
	Degraded: {Ready, Offline, Stopped},
	Offline:  {Syncing, Stopped},
	Stopped:  {},
}

// Machine tracks and enforces sync state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state. Returns an error if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.current
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	m.current = to
	m.mu.Unlock()

	m.bus.Emit(Kind, StatusChange{From: from, To: to})
	return nil
}

// Settle moves toward to, passing through Syncing when the direct move is
// not allowed (Booting→Ready, Offline→Ready). Staying put is not an error.
func (m *Machine) Settle(to State) error {
	cur := m.Current()
	if cur == to {
		return nil
	}
	if slices.Contains(validTransitions[cur], to) {
		return m.Transition(to)
	}
	if slices.Contains(validTransitions[cur], Syncing) && slices.Contains(validTransitions[Syncing], to) {
		if err := m.Transition(Syncing); err != nil {
			return err
		}
		return m.Transition(to)
	}
	return fmt.Errorf("no path from %s to %s", cur, to)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
