package graph

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Executor runs compiled units on one backend. The runtime calls Launch once
// per actor firing with inputs ordered as unit.Inputs and expects outputs
// ordered as unit.Outputs. Launch must not mutate its inputs.
//
// Implementations must be safe for concurrent use: different runs, and
// different actors of one run, may launch at the same time.
type Executor interface {
	Launch(ctx context.Context, unit *Subgraph, inputs []*Tensor) ([]*Tensor, error)
}

// Preparer is implemented by executors of delegated backends that compile
// their own program for a unit before it can be launched. Prepare is called
// once per delegated subgraph when the runtime is built.
type Preparer interface {
	Prepare(unit *Subgraph) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, unit *Subgraph, inputs []*Tensor) ([]*Tensor, error)

// Launch implements Executor.
func (f ExecutorFunc) Launch(ctx context.Context, unit *Subgraph, inputs []*Tensor) ([]*Tensor, error) {
	return f(ctx, unit, inputs)
}

// panicError carries a recovered panic and the stack it came from.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("executor panic: %v", p.value)
}

// safeLaunch invokes exec and converts a panic into an error.
func safeLaunch(ctx context.Context, exec Executor, unit *Subgraph, inputs []*Tensor) (outs []*Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			outs = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return exec.Launch(ctx, unit, inputs)
}
