package backend

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/dshills/hetgraph/graph"
)

// Faulty wraps an executor and injects failures into selected units.
//
// Use Faulty in tests to drive the runtime's failure paths without a broken
// backend:
//
//	f := &backend.Faulty{
//	    Next:  backend.NewSimulated(nil),
//	    Err:   errors.New("device lost"),
//	    Units: []string{"subgraph-2/gpu"},
//	}
//
// Injection order is Delay, then Panic, then Err, then DropOutputs.
type Faulty struct {
	// Next executes units that are not targeted, and targeted units when only
	// Delay or DropOutputs is set.
	Next graph.Executor

	// Units restricts injection to these actor names. Empty targets every unit.
	Units []string

	// Err, if set, is returned instead of launching.
	Err error

	// Panic, if non-nil, is raised from Launch.
	Panic any

	// Delay is slept before launching, or until ctx is done.
	Delay time.Duration

	// DropOutputs makes Launch return one output fewer than the unit declares.
	DropOutputs bool

	mu    sync.Mutex
	calls []string
}

// Prepare forwards to Next when it is a graph.Preparer.
func (f *Faulty) Prepare(unit *graph.Subgraph) error {
	if p, ok := f.Next.(graph.Preparer); ok {
		return p.Prepare(unit)
	}
	return nil
}

// Launch implements graph.Executor.
func (f *Faulty) Launch(ctx context.Context, unit *graph.Subgraph, inputs []*graph.Tensor) ([]*graph.Tensor, error) {
	f.mu.Lock()
	f.calls = append(f.calls, unit.Name())
	f.mu.Unlock()

	if !f.targets(unit) {
		return f.next(ctx, unit, inputs)
	}

	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if f.Panic != nil {
		panic(f.Panic)
	}
	if f.Err != nil {
		return nil, f.Err
	}

	outs, err := f.next(ctx, unit, inputs)
	if err != nil {
		return nil, err
	}
	if f.DropOutputs && len(outs) > 0 {
		outs = outs[:len(outs)-1]
	}
	return outs, nil
}

func (f *Faulty) targets(unit *graph.Subgraph) bool {
	return len(f.Units) == 0 || slices.Contains(f.Units, unit.Name())
}

func (f *Faulty) next(ctx context.Context, unit *graph.Subgraph, inputs []*graph.Tensor) ([]*graph.Tensor, error) {
	if f.Next == nil {
		return nil, errors.New("faulty executor has no next executor")
	}
	return f.Next.Launch(ctx, unit, inputs)
}

// Calls returns the actor names launched so far, in call order.
func (f *Faulty) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns the number of Launch invocations.
func (f *Faulty) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reset clears the call history.
func (f *Faulty) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}
