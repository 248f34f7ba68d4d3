package overlay

import (
	"context"
	"sync"
)

// Op is the rollback half of an optimistic local mutation. Rollback is safe
// to call more than once; only the first call has an effect.
type Op struct {
	once *sync.Once
	undo func()
}

func newOp(undo func()) Op {
	return Op{once: new(sync.Once), undo: undo}
}

// Rollback undoes the mutation that produced the Op.
func (o Op) Rollback() {
	if o.once == nil {
		return
	}
	o.once.Do(o.undo)
}

// Then returns an Op that rolls o back and then calls fn, once.
func (o Op) Then(fn func()) Op {
	return newOp(func() {
		o.Rollback()
		fn()
	})
}

// Ops groups several mutations so they roll back together, newest first.
type Ops []Op

// Rollback undoes every op in reverse order.
func (ops Ops) Rollback() {
	for i := len(ops) - 1; i >= 0; i-- {
		ops[i].Rollback()
	}
}

// Do applies a local effect, issues call, and rolls the effect back on any
// non-success path: a returned error, or a panic unwinding through call.
func Do(ctx context.Context, apply func() Op, call func(ctx context.Context) error) error {
	op := apply()
	ok := false
	defer func() {
		if !ok {
			op.Rollback()
		}
	}()
	if err := call(ctx); err != nil {
		return err
	}
	ok = true
	return nil
}
