package graph

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
)

// chainGraph is x -> cos -> exp -> elu -> cos2 -> y.
func chainGraph() *Graph {
	return &Graph{
		Name:    "chain",
		Inputs:  []TensorSpec{{Name: "x"}},
		Outputs: []TensorSpec{{Name: "y"}},
		Nodes: []*OperatorNode{
			{Name: "cos", Kind: "cos", Inputs: []string{"x"}, Outputs: []string{"x1"}},
			{Name: "exp", Kind: "exp", Inputs: []string{"x1"}, Outputs: []string{"x2"}},
			{Name: "elu", Kind: "elu", Inputs: []string{"x2"}, Outputs: []string{"x3"}},
			{Name: "cos2", Kind: "cos", Inputs: []string{"x3"}, Outputs: []string{"y"}},
		},
	}
}

var chainInput = []float32{1, 2, 3, 4}

var chainWant = []float32{-0.14517, 0.790252, 0.931755, 0.867795}

// abcCaps returns capabilities where A runs cos and exp, B runs cos and exp,
// and C runs everything.
func abcCaps() map[Backend]DeviceCapability {
	return map[Backend]DeviceCapability{
		"A": {Backend: "A", Supports: Ops("cos", "exp")},
		"B": {Backend: "B", Supports: Ops("cos", "exp")},
		"C": {Backend: "C", Supports: Ops("cos", "exp", "elu", "add", "mul", "neg")},
	}
}

func newTestRegistry(t *testing.T, caps ...DeviceCapability) *Registry {
	t.Helper()
	reg, err := NewRegistry(caps...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg
}

func mustCompile(t *testing.T, g *Graph, reg *Registry) *ActorGraph {
	t.Helper()
	ag, err := Compile(g, reg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return ag
}

var hostKernels = map[string]func(args []float64) float64{
	"cos":       func(a []float64) float64 { return math.Cos(a[0]) },
	"exp":       func(a []float64) float64 { return math.Exp(a[0]) },
	"neg":       func(a []float64) float64 { return -a[0] },
	"to_format": func(a []float64) float64 { return a[0] },
	"add":       func(a []float64) float64 { return a[0] + a[1] },
	"mul":       func(a []float64) float64 { return a[0] * a[1] },
	"elu": func(a []float64) float64 {
		if a[0] > 0 {
			return a[0]
		}
		return math.Exp(a[0]) - 1
	},
}

// hostExecutor evaluates units element-wise on the host and records the
// actors it launched.
type hostExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (h *hostExecutor) Launch(ctx context.Context, unit *Subgraph, inputs []*Tensor) ([]*Tensor, error) {
	h.mu.Lock()
	h.calls = append(h.calls, unit.Name())
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env := make(map[string][]float32)
	for i, p := range unit.Inputs {
		env[p.Tensor] = inputs[i].Data
	}
	for _, n := range unit.Nodes {
		k, ok := hostKernels[n.Kind]
		if !ok {
			return nil, fmt.Errorf("no host kernel for %q", n.Kind)
		}
		width := len(env[n.Inputs[0]])
		out := make([]float32, width)
		args := make([]float64, len(n.Inputs))
		for i := 0; i < width; i++ {
			for j, in := range n.Inputs {
				args[j] = float64(env[in][i])
			}
			out[i] = float32(k(args))
		}
		env[n.Outputs[0]] = out
	}
	outs := make([]*Tensor, len(unit.Outputs))
	for i, p := range unit.Outputs {
		outs[i] = &Tensor{Name: p.Tensor, Layout: p.Layout, Device: p.Device, Data: env[p.Tensor]}
	}
	return outs, nil
}

func (h *hostExecutor) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func executorsFor(ag *ActorGraph, exec Executor) map[Backend]Executor {
	m := make(map[Backend]Executor)
	for _, b := range ag.Backends() {
		m[b] = exec
	}
	return m
}

func assertClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Errorf("value[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
