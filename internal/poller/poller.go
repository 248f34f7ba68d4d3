package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/env"
	"go.uber.org/zap"
)

// Task is one poll run. Its error is logged; it never stops the schedule.
type Task func(ctx context.Context) error

// Config controls when a poller runs.
type Config struct {
	Interval time.Duration // foreground interval
	// BackgroundInterval is used while backgrounded. Zero means the poller
	// does not run at all in the background.
	BackgroundInterval time.Duration
	// Immediate runs the task as soon as the poller starts.
	Immediate bool
}

// Poller runs a task on an interval that adapts to the process environment.
// At most one run is in flight at a time. While offline nothing is
// scheduled. When the environment changes, the pending run is cancelled and
// rescheduled at interval minus the time since the last run started, so a
// switch neither bursts nor waits a full new interval.
type Poller struct {
	name   string
	task   Task
	cfg    Config
	env    *env.Environment
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	timer   Timer
	gen     uint64 // bumped on every (re)schedule; stale timers compare unequal
	running bool
	lastRun time.Time
	hasRun  bool
	started bool
	stopped bool
	unsub   func()
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// New creates a stopped-until-started poller.
func New(name string, task Task, cfg Config, e *env.Environment, logger *zap.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		name:   name,
		task:   task,
		cfg:    cfg,
		env:    e,
		clock:  RealClock,
		logger: logger.With(zap.String("poller", name)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start begins scheduling. Calling Start twice, or after Stop, does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	if p.env != nil {
		unsub := p.env.Subscribe(func(env.State) { p.Reconfigure() })
		p.mu.Lock()
		p.unsub = unsub
		p.mu.Unlock()
	}

	p.mu.Lock()
	p.scheduleLocked(p.cfg.Immediate)
	p.mu.Unlock()
}

// Reconfigure cancels the pending run and reschedules it for the current
// environment.
func (p *Poller) Reconfigure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped || p.running {
		return
	}
	p.scheduleLocked(false)
}

// Stop cancels any pending run and disables the poller for good. A run in
// flight sees its context cancelled.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.disarmLocked()
	unsub := p.unsub
	cancel := p.cancel
	p.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// Stopped reports whether Stop has been called.
func (p *Poller) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// interval returns the interval for the current environment, or false when
// nothing should be scheduled.
func (p *Poller) interval() (time.Duration, bool) {
	var st env.State
	if p.env != nil {
		st = p.env.State()
	}
	switch {
	case st.Offline:
		return 0, false
	case st.Background:
		return p.cfg.BackgroundInterval, p.cfg.BackgroundInterval > 0
	default:
		return p.cfg.Interval, p.cfg.Interval > 0
	}
}

// scheduleLocked replaces the pending timer. Caller holds mu.
func (p *Poller) scheduleLocked(immediate bool) {
	p.disarmLocked()
	if p.stopped {
		return
	}
	interval, ok := p.interval()
	if !ok {
		return
	}
	delay := interval
	switch {
	case immediate:
		delay = 0
	case p.hasRun:
		delay = max(0, interval-p.clock.Now().Sub(p.lastRun))
	}
	p.armLocked(delay)
}

// scheduleAfterRunLocked waits a full interval after a run completes.
func (p *Poller) scheduleAfterRunLocked() {
	p.disarmLocked()
	if p.stopped {
		return
	}
	interval, ok := p.interval()
	if !ok {
		return
	}
	p.armLocked(interval)
}

// disarmLocked stops the pending timer and invalidates it, including a
// callback that already fired and is waiting for mu. Caller holds mu.
func (p *Poller) disarmLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// armLocked schedules one fire after delay. Caller holds mu.
func (p *Poller) armLocked(delay time.Duration) {
	gen := p.gen
	p.timer = p.clock.AfterFunc(delay, func() { p.fire(gen) })
}

func (p *Poller) fire(gen uint64) {
	p.mu.Lock()
	if p.stopped || p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.timer = nil
	p.lastRun = p.clock.Now()
	p.hasRun = true
	ctx := p.ctx
	p.mu.Unlock()

	p.run(ctx)

	p.mu.Lock()
	p.running = false
	p.scheduleAfterRunLocked()
	p.mu.Unlock()
}

// run executes the task once. A panic is logged and swallowed so the
// schedule survives it.
func (p *Poller) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poll task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := p.task(ctx); err != nil {
		p.logger.Debug("poll task failed", zap.Error(err))
	}
}
