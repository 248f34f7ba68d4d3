package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Syncing},
		{Booting, Offline},
		{Syncing, Ready},
		{Syncing, Degraded},
		{Ready, Degraded},
		{Degraded, Ready},
		{Ready, Offline},
		{Offline, Syncing},
		{Ready, Stopped},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (unchanged)", m.Current())
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Stopped)
	for _, s := range []State{Booting, Syncing, Ready, Offline} {
		if err := m.Transition(s); err == nil {
			t.Errorf("Transition(STOPPED -> %s) should fail", s)
		}
	}
}

func TestSettlePassesThroughSyncing(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Settle(Ready); err != nil {
		t.Fatalf("Settle(READY) error = %v", err)
	}
	if m.Current() != Ready {
		t.Fatalf("state = %s, want READY", m.Current())
	}

	var seen []StatusChange
	for len(ch) > 0 {
		seen = append(seen, (<-ch).Payload.(StatusChange))
	}
	want := []StatusChange{{Booting, Syncing}, {Syncing, Ready}}
	if len(seen) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, seen[i], want[i])
		}
	}

	// Settling into the current state is a no-op.
	if err := m.Settle(Ready); err != nil {
		t.Errorf("Settle(READY) again error = %v", err)
	}
}

// TestOfflineRecoveryLifecycle walks a network drop and recovery:
// READY → OFFLINE → SYNCING → READY
func TestOfflineRecoveryLifecycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	for _, s := range []State{Offline, Syncing, Ready} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:  {},
		Syncing:  {Syncing},
		Ready:    {Syncing, Ready},
		Degraded: {Syncing, Degraded},
		Offline:  {Offline},
		Stopped:  {Stopped},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
