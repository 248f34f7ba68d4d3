package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/env"
	"go.uber.org/zap"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var due *fakeTimer
		for i, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.at.After(target) {
				due = t
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = due.at
		due.stopped = true
		c.mu.Unlock()
		due.f()
	}
}

// take removes the earliest pending timer as if it had just fired, without
// calling it yet. Its Stop then reports false, as with time.AfterFunc.
func (c *fakeClock) take() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
	for i, t := range c.timers {
		if t.stopped {
			continue
		}
		c.timers = append(c.timers[:i], c.timers[i+1:]...)
		t.stopped = true
		return t.f
	}
	return nil
}

// next returns the delay until the earliest pending timer.
func (c *fakeClock) next() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		best  time.Duration
		found bool
	)
	for _, t := range c.timers {
		if t.stopped {
			continue
		}
		d := t.at.Sub(c.now)
		if !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) task(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestImmediateRunsAtStart(t *testing.T) {
	clock := newFakeClock()
	var c counter
	p := New("t", c.task, Config{Interval: 5 * time.Second, Immediate: true}, env.New(nil), zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	clock.Advance(0)
	if c.count() != 1 {
		t.Fatalf("runs = %d, want 1", c.count())
	}
	clock.Advance(5 * time.Second)
	if c.count() != 2 {
		t.Errorf("runs after one interval = %d, want 2", c.count())
	}
}

func TestBackgroundReschedulesFromLastRun(t *testing.T) {
	clock := newFakeClock()
	e := env.New(nil)
	var c counter
	p := New("t", c.task, Config{
		Interval:           5000 * time.Millisecond,
		BackgroundInterval: 60000 * time.Millisecond,
		Immediate:          true,
	}, e, zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	clock.Advance(0) // first run
	clock.Advance(2000 * time.Millisecond)

	e.SetBackground(true)

	d, ok := clock.next()
	if !ok {
		t.Fatal("no run scheduled after backgrounding")
	}
	if d != 58000*time.Millisecond {
		t.Errorf("next run in %v, want 58s", d)
	}
	if clock.pending() != 1 {
		t.Errorf("pending timers = %d, want 1", clock.pending())
	}

	clock.Advance(57999 * time.Millisecond)
	if c.count() != 1 {
		t.Fatalf("ran early: runs = %d, want 1", c.count())
	}
	clock.Advance(time.Millisecond)
	if c.count() != 2 {
		t.Errorf("runs = %d, want 2", c.count())
	}
}

func TestNoBackgroundIntervalSuspends(t *testing.T) {
	clock := newFakeClock()
	e := env.New(nil)
	var c counter
	p := New("t", c.task, Config{Interval: 5 * time.Second}, e, zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	clock.Advance(5 * time.Second)
	if c.count() != 1 {
		t.Fatalf("runs = %d, want 1", c.count())
	}

	clock.Advance(time.Second)
	e.SetBackground(true)
	if clock.pending() != 0 {
		t.Fatalf("pending timers = %d, want 0 while backgrounded", clock.pending())
	}
	clock.Advance(time.Hour)
	if c.count() != 1 {
		t.Fatalf("ran while backgrounded: runs = %d", c.count())
	}

	// Returning to the foreground more than an interval later runs at once.
	e.SetBackground(false)
	d, ok := clock.next()
	if !ok || d != 0 {
		t.Errorf("next run in %v (scheduled %v), want 0", d, ok)
	}
}

func TestOfflineSuspendsScheduling(t *testing.T) {
	clock := newFakeClock()
	e := env.New(nil)
	var c counter
	p := New("t", c.task, Config{Interval: 5 * time.Second, BackgroundInterval: time.Minute}, e, zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	e.SetOffline(true)
	e.SetBackground(true) // no background fallback while offline
	if clock.pending() != 0 {
		t.Fatalf("pending timers = %d, want 0 while offline", clock.pending())
	}
	clock.Advance(time.Hour)
	if c.count() != 0 {
		t.Fatalf("ran while offline: runs = %d", c.count())
	}

	e.SetOffline(false)
	d, ok := clock.next()
	if !ok || d != time.Minute {
		t.Errorf("next run in %v (scheduled %v), want 1m background interval", d, ok)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	var c counter
	p := New("t", c.task, Config{Interval: time.Second}, env.New(nil), zap.NewNop(), WithClock(clock))
	p.Start(context.Background())

	p.Stop()
	p.Stop()
	p.Start(context.Background()) // no effect after Stop
	p.Reconfigure()

	clock.Advance(time.Minute)
	if c.count() != 0 {
		t.Errorf("runs after stop = %d, want 0", c.count())
	}
	if !p.Stopped() {
		t.Error("Stopped() = false")
	}
}

func TestPanicDoesNotBreakSchedule(t *testing.T) {
	clock := newFakeClock()
	runs := 0
	task := func(context.Context) error {
		runs++
		if runs == 1 {
			panic("boom")
		}
		return errors.New("transient")
	}
	p := New("t", task, Config{Interval: time.Second, Immediate: true}, env.New(nil), zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	clock.Advance(0)
	clock.Advance(time.Second)
	clock.Advance(time.Second)
	if runs != 3 {
		t.Errorf("runs = %d, want 3", runs)
	}
}

func TestReconfigureDuringRunKeepsOneInFlight(t *testing.T) {
	clock := newFakeClock()
	e := env.New(nil)
	var p *Poller
	runs := 0
	task := func(context.Context) error {
		runs++
		e.SetBackground(true)
		e.SetBackground(false)
		return nil
	}
	p = New("t", task, Config{Interval: time.Second, BackgroundInterval: time.Minute, Immediate: true}, e, zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	clock.Advance(0)
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
	if clock.pending() != 1 {
		t.Errorf("pending timers = %d, want exactly 1", clock.pending())
	}
}

func TestFiredTimerLosingToReconfigureIsDropped(t *testing.T) {
	clock := newFakeClock()
	e := env.New(nil)
	var c counter
	p := New("t", c.task, Config{Interval: 5 * time.Second, BackgroundInterval: time.Minute}, e, zap.NewNop(), WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	// The foreground timer fires but its callback has not reached the
	// poller yet when the app is backgrounded.
	stale := clock.take()
	if stale == nil {
		t.Fatal("no timer scheduled at start")
	}
	e.SetBackground(true)
	stale()

	if c.count() != 0 {
		t.Errorf("runs = %d, want 0 (stale timer must not run)", c.count())
	}
	if clock.pending() != 1 {
		t.Fatalf("pending timers = %d, want exactly 1", clock.pending())
	}
	clock.Advance(time.Minute)
	if c.count() != 1 || clock.pending() != 1 {
		t.Errorf("runs = %d, pending = %d; want 1 run and one live timer", c.count(), clock.pending())
	}
}

func TestGroupKeepsOnePollerPerKey(t *testing.T) {
	clock := newFakeClock()
	g := NewGroup[string]()
	var c counter
	mk := func() *Poller {
		return New("chat", c.task, Config{Interval: time.Second}, env.New(nil), zap.NewNop(), WithClock(clock))
	}

	if !g.Ensure(context.Background(), "a", mk) {
		t.Fatal("first Ensure should start a poller")
	}
	if g.Ensure(context.Background(), "a", mk) {
		t.Error("second Ensure should reuse the live poller")
	}
	clock.Advance(time.Second)
	if c.count() != 1 {
		t.Errorf("runs = %d, want 1 (one poller)", c.count())
	}

	g.Remove("a")
	if g.Has("a") {
		t.Error("Has(a) after Remove")
	}
	if !g.Ensure(context.Background(), "a", mk) {
		t.Error("Ensure after Remove should start a new poller")
	}
	g.StopAll()
	if len(g.Keys()) != 0 {
		t.Errorf("keys after StopAll = %v", g.Keys())
	}
}
