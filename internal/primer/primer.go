package primer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/env"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/poller"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configure a Primer.
type Options struct {
	BatchSize int
	IdleSlice time.Duration
	Clock     poller.Clock
}

// maxBackoffSlices caps how many idle slices a repeatedly failing chat
// waits before it is tried again.
const maxBackoffSlices = 32

// DefaultOptions mirrors the config defaults.
var DefaultOptions = Options{
	BatchSize: 5,
	IdleSlice: 30 * time.Second,
}

// Primer warms the timelines of chats the user is likely to open next. It
// runs at the lowest priority: one batch per idle slice, never while a
// foreground load is in flight, and never in the background.
type Primer struct {
	engine *sync.Engine
	db     *store.DB
	bus    *bus.Bus
	env    *env.Environment
	logger *zap.Logger
	opts   Options
	poller *poller.Poller

	mu       stdsync.Mutex
	failures map[model.ChatID]failure
}

// failure holds a chat back from priming until retryAt. It lives in memory
// only; a restarted primer tries every chat again.
type failure struct {
	count   int
	retryAt time.Time
}

// New creates a cache primer.
func New(eng *sync.Engine, db *store.DB, b *bus.Bus, e *env.Environment, logger *zap.Logger, opts Options) *Primer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions.BatchSize
	}
	if opts.IdleSlice <= 0 {
		opts.IdleSlice = DefaultOptions.IdleSlice
	}
	return &Primer{engine: eng, db: db, bus: b, env: e, logger: logger, opts: opts, failures: make(map[model.ChatID]failure)}
}

func (p *Primer) now() time.Time {
	if p.opts.Clock != nil {
		return p.opts.Clock.Now()
	}
	return time.Now()
}

// recordFailure backs id off for one idle slice, doubling per consecutive
// failure.
func (p *Primer) recordFailure(id model.ChatID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.failures[id]
	f.count++
	n := min(1<<min(f.count-1, 8), maxBackoffSlices)
	f.retryAt = p.now().Add(time.Duration(n) * p.opts.IdleSlice)
	p.failures[id] = f
}

func (p *Primer) clearFailure(id model.ChatID) {
	p.mu.Lock()
	delete(p.failures, id)
	p.mu.Unlock()
}

func (p *Primer) backedOff(id model.ChatID, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.failures[id]
	return ok && now.Before(f.retryAt)
}

// Start schedules a batch every idle slice.
func (p *Primer) Start(ctx context.Context) {
	var popts []poller.Option
	if p.opts.Clock != nil {
		popts = append(popts, poller.WithClock(p.opts.Clock))
	}
	p.poller = poller.New("primer", func(ctx context.Context) error {
		_, err := p.RunBatch(ctx)
		return err
	}, poller.Config{Interval: p.opts.IdleSlice}, p.env, p.logger, popts...)
	p.poller.Start(ctx)
}

// Stop cancels scheduling.
func (p *Primer) Stop() {
	if p.poller != nil {
		p.poller.Stop()
	}
}

// Pending returns the summaries that changed since they were last primed,
// most recently updated first. Empty chats, chats already resident and
// chats backing off after a failed load are left out.
func (p *Primer) Pending() ([]model.ChatSummary, error) {
	primed, err := p.db.PrimedAt()
	if err != nil {
		return nil, fmt.Errorf("read primed timestamps: %w", err)
	}
	now := p.now()
	var out []model.ChatSummary
	for _, id := range p.engine.Summaries().Keys() {
		sum, ok := p.engine.Summaries().Get(id)
		if !ok || sum.Empty() {
			continue
		}
		if at, ok := primed[id]; ok && at >= sum.LastUpdated {
			continue
		}
		if p.engine.Active(model.Main(id)) || p.backedOff(id, now) {
			continue
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b model.ChatSummary) int {
		if c := cmp.Compare(b.LastUpdated, a.LastUpdated); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// nextBatch picks the shard of the most recently updated pending chat and
// takes up to BatchSize of its chats, so one batch touches one shard.
func (p *Primer) nextBatch(pending []model.ChatSummary) (string, []model.ChatSummary) {
	if len(pending) == 0 {
		return "", nil
	}
	shard := pending[0].Shard
	var batch []model.ChatSummary
	for _, sum := range pending {
		if sum.Shard != shard {
			continue
		}
		batch = append(batch, sum)
		if len(batch) == p.opts.BatchSize {
			break
		}
	}
	return shard, batch
}

// RunBatch primes one batch and returns how many chats it warmed. A failing
// chat does not stop the batch; every failure is returned together.
func (p *Primer) RunBatch(ctx context.Context) (int, error) {
	if p.engine.Busy() {
		return 0, nil
	}
	pending, err := p.Pending()
	if err != nil {
		return 0, err
	}
	shard, batch := p.nextBatch(pending)
	if len(batch) == 0 {
		return 0, nil
	}

	var (
		errs   error
		primed int
		failed int
	)
	for _, sum := range batch {
		if ctx.Err() != nil || p.engine.Busy() {
			break
		}
		if err := p.engine.LoadInitial(ctx, model.Main(sum.ID)); err != nil {
			failed++
			p.recordFailure(sum.ID)
			errs = multierr.Append(errs, fmt.Errorf("prime %s: %w", sum.ID, err))
			continue
		}
		p.clearFailure(sum.ID)
		if err := p.db.SetPrimed(sum.ID, sum.LastUpdated); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("record primed %s: %w", sum.ID, err))
		}
		primed++
	}

	p.logger.Debug("primer batch done", zap.String("shard", shard), zap.Int("primed", primed), zap.Int("failed", failed))
	p.bus.Emit(bus.PrimerBatch, bus.PrimerBatchDone{Shard: shard, Primed: primed, Failed: failed})
	return primed, errs
}
