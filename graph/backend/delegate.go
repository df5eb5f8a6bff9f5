package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/hetgraph/graph"
)

// ErrNotPrepared is returned when a Delegate is asked to launch a unit it
// never compiled.
var ErrNotPrepared = errors.New("unit was not prepared")

// Delegate models a backend that takes ownership of whole units. Prepare
// compiles a unit into a fixed program of kernel steps; Launch replays it.
// Kernel lookups and support checks happen once, in Prepare.
type Delegate struct {
	kernels map[string]Kernel

	mu       sync.RWMutex
	programs map[*graph.Subgraph]*program
}

type step struct {
	node   *graph.OperatorNode
	kernel Kernel
}

type program struct {
	steps []step
}

// NewDelegate returns a delegate backed by kernels. A nil map selects
// DefaultKernels.
func NewDelegate(kernels map[string]Kernel) *Delegate {
	if kernels == nil {
		kernels = DefaultKernels()
	}
	return &Delegate{kernels: kernels, programs: make(map[*graph.Subgraph]*program)}
}

// Supports reports whether the delegate can compile the node.
func (d *Delegate) Supports(n *graph.OperatorNode) bool {
	_, ok := d.kernels[n.Kind]
	return ok
}

// Prepare implements graph.Preparer.
func (d *Delegate) Prepare(unit *graph.Subgraph) error {
	p := &program{steps: make([]step, 0, len(unit.Nodes))}
	for _, n := range unit.Nodes {
		k, ok := d.kernels[n.Kind]
		if !ok {
			return fmt.Errorf("%s: %w %q", n.Name, ErrUnknownKernel, n.Kind)
		}
		p.steps = append(p.steps, step{node: n, kernel: k})
	}
	d.mu.Lock()
	d.programs[unit] = p
	d.mu.Unlock()
	return nil
}

// Prepared reports whether unit has a compiled program.
func (d *Delegate) Prepared(unit *graph.Subgraph) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.programs[unit]
	return ok
}

// Release drops the compiled program for unit.
func (d *Delegate) Release(unit *graph.Subgraph) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, unit)
}

// Launch implements graph.Executor.
func (d *Delegate) Launch(ctx context.Context, unit *graph.Subgraph, inputs []*graph.Tensor) ([]*graph.Tensor, error) {
	d.mu.RLock()
	p, ok := d.programs[unit]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", unit.Name(), ErrNotPrepared)
	}

	env, err := bindInputs(unit, inputs)
	if err != nil {
		return nil, err
	}
	for _, st := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := runNode(env, st.node, st.kernel); err != nil {
			return nil, err
		}
	}
	return collectOutputs(unit, env)
}
