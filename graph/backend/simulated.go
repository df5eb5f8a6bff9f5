package backend

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dshills/hetgraph/graph"
)

// Simulated executes a unit by running its members one after another on the
// host. Intermediate tensors live only for the duration of one launch, so a
// single Simulated may serve any number of concurrent runs.
//
// Example:
//
//	cpu := backend.NewSimulated(nil)
//	executors := map[graph.Backend]graph.Executor{"cpu": cpu}
type Simulated struct {
	mu       sync.RWMutex
	kernels  map[string]Kernel
	launches atomic.Int64
}

// NewSimulated returns an executor backed by kernels. A nil map selects
// DefaultKernels.
func NewSimulated(kernels map[string]Kernel) *Simulated {
	if kernels == nil {
		kernels = DefaultKernels()
	}
	return &Simulated{kernels: kernels}
}

// Register adds or replaces the kernel for kind.
func (s *Simulated) Register(kind string, k Kernel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernels[kind] = k
}

// Supports reports whether a kernel is registered for the node's kind. It is
// suitable as a DeviceCapability.Supports predicate.
func (s *Simulated) Supports(n *graph.OperatorNode) bool {
	_, ok := s.kernel(n.Kind)
	return ok
}

// Launches returns how many units this executor has launched.
func (s *Simulated) Launches() int64 { return s.launches.Load() }

func (s *Simulated) kernel(kind string) (Kernel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kernels[kind]
	return k, ok
}

// Launch implements graph.Executor.
func (s *Simulated) Launch(ctx context.Context, unit *graph.Subgraph, inputs []*graph.Tensor) ([]*graph.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.launches.Add(1)

	env, err := bindInputs(unit, inputs)
	if err != nil {
		return nil, err
	}
	for _, n := range unit.Nodes {
		k, ok := s.kernel(n.Kind)
		if !ok {
			return nil, fmt.Errorf("%s: %w %q", n.Name, ErrUnknownKernel, n.Kind)
		}
		if err := runNode(env, n, k); err != nil {
			return nil, err
		}
	}
	return collectOutputs(unit, env)
}

type value struct {
	data  []float32
	shape []int
}

func bindInputs(unit *graph.Subgraph, inputs []*graph.Tensor) (map[string]value, error) {
	if len(inputs) != len(unit.Inputs) {
		return nil, fmt.Errorf("%s expects %d inputs, got %d", unit.Name(), len(unit.Inputs), len(inputs))
	}
	env := make(map[string]value, len(inputs)+len(unit.Nodes))
	for i, p := range unit.Inputs {
		env[p.Tensor] = value{data: inputs[i].Data, shape: inputs[i].Shape}
	}
	return env, nil
}

func runNode(env map[string]value, n *graph.OperatorNode, k Kernel) error {
	if len(n.Outputs) != 1 {
		return fmt.Errorf("%s: kernels produce exactly one output, node declares %d", n.Name, len(n.Outputs))
	}
	args := make([][]float32, len(n.Inputs))
	var shape []int
	for i, in := range n.Inputs {
		v, ok := env[in]
		if !ok {
			return fmt.Errorf("%s: input %q is not available", n.Name, in)
		}
		args[i] = v.data
		if shape == nil {
			shape = v.shape
		}
	}
	out, err := k(args)
	if err != nil {
		return fmt.Errorf("%s (%s): %w", n.Name, n.Kind, err)
	}
	env[n.Outputs[0]] = value{data: out, shape: shape}
	return nil
}

func collectOutputs(unit *graph.Subgraph, env map[string]value) ([]*graph.Tensor, error) {
	outs := make([]*graph.Tensor, len(unit.Outputs))
	for i, p := range unit.Outputs {
		v, ok := env[p.Tensor]
		if !ok {
			return nil, fmt.Errorf("%s: output %q was not produced", unit.Name(), p.Tensor)
		}
		outs[i] = &graph.Tensor{
			Name:   p.Tensor,
			Layout: p.Layout,
			Device: p.Device,
			Shape:  slices.Clone(v.shape),
			Data:   v.data,
		}
	}
	return outs, nil
}
