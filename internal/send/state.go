package send

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is where a local message is in the send pipeline.
type State string

const (
	Composing            State = "composing"
	PendingPreconditions State = "pending-preconditions"
	ThrottleChecked      State = "throttle-checked"
	Unconfirmed          State = "unconfirmed"
	Confirmed            State = "confirmed"
	Failed               State = "failed"
)

var validTransitions = map[State][]State{
	Composing:            {PendingPreconditions},
	PendingPreconditions: {ThrottleChecked},
	ThrottleChecked:      {Unconfirmed},
	Unconfirmed:          {Confirmed, Failed},
	Confirmed:            {},
	Failed:               {PendingPreconditions},
}

// states tracks the live pipeline state of every message in flight.
type states struct {
	mu  sync.Mutex
	cur map[string]State
	bus *bus.Bus
}

func newStates(b *bus.Bus) *states {
	return &states{cur: make(map[string]State), bus: b}
}

func (s *states) get(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.cur[id]
	return st, ok
}

// begin registers id in from. A message already in the pipeline is refused
// unless it sits in from.
func (s *states) begin(id string, from State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cur[id]; ok && cur != from {
		return fmt.Errorf("message %s is %s", id, cur)
	}
	s.cur[id] = from
	return nil
}

func (s *states) transition(id string, to State) error {
	s.mu.Lock()
	from, ok := s.cur[id]
	if !ok {
		from = Composing
	}
	if !slices.Contains(validTransitions[from], to) {
		s.mu.Unlock()
		return fmt.Errorf("invalid send transition from %s to %s", from, to)
	}
	s.cur[id] = to
	s.mu.Unlock()

	s.bus.Emit(bus.SendStateChanged, bus.StateChange{MessageID: id, From: string(from), To: string(to)})
	return nil
}

// abort puts id back where it was before an attempt that never reached the
// network. A fresh message is forgotten.
func (s *states) abort(id string, prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev == Composing {
		delete(s.cur, id)
		return
	}
	s.cur[id] = prev
}
