package backend_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dshills/hetgraph/graph"
	"github.com/dshills/hetgraph/graph/backend"
)

// chain builds x -> cos -> exp -> elu -> cos2 -> y with every tensor declared NCHW.
func chain() *graph.Graph {
	return &graph.Graph{
		Name:    "chain",
		Inputs:  []graph.TensorSpec{{Name: "x", Layout: "NCHW"}},
		Outputs: []graph.TensorSpec{{Name: "y", Layout: "NCHW"}},
		Nodes: []*graph.OperatorNode{
			{Name: "cos", Kind: "cos", Inputs: []string{"x"}, Outputs: []string{"x1"}, Layout: "NCHW"},
			{Name: "exp", Kind: "exp", Inputs: []string{"x1"}, Outputs: []string{"x2"}, Layout: "NCHW"},
			{Name: "elu", Kind: "elu", Inputs: []string{"x2"}, Outputs: []string{"x3"}, Layout: "NCHW"},
			{Name: "cos2", Kind: "cos", Inputs: []string{"x3"}, Outputs: []string{"y"}, Layout: "NCHW"},
		},
	}
}

var chainWant = []float32{-0.14517, 0.790252, 0.931755, 0.867795}

func assertClose(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Errorf("value[%d] = %v, want %v (±%v)", i, got[i], want[i], tol)
		}
	}
}

func input() map[string]*graph.Tensor {
	return map[string]*graph.Tensor{
		"x": {Layout: "NCHW", Shape: []int{4}, Data: []float32{1, 2, 3, 4}},
	}
}

func TestDefaultKernels(t *testing.T) {
	k := backend.DefaultKernels()

	tests := []struct {
		kind string
		in   [][]float32
		want []float32
	}{
		{"cos", [][]float32{{0}}, []float32{1}},
		{"exp", [][]float32{{0, 1}}, []float32{1, float32(math.E)}},
		{"elu", [][]float32{{2, -1}}, []float32{2, float32(math.Exp(-1) - 1)}},
		{"relu", [][]float32{{-3, 3}}, []float32{0, 3}},
		{"neg", [][]float32{{5}}, []float32{-5}},
		{"abs", [][]float32{{-2}}, []float32{2}},
		{"sigmoid", [][]float32{{0}}, []float32{0.5}},
		{"identity", [][]float32{{7}}, []float32{7}},
		{"to_format", [][]float32{{7, 8}}, []float32{7, 8}},
		{"add", [][]float32{{1, 2}, {10, 20}}, []float32{11, 22}},
		{"mul", [][]float32{{1, 2}, {10, 20}}, []float32{10, 40}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := k[tt.kind](tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertClose(t, got, tt.want, 1e-6)
		})
	}

	t.Run("arity", func(t *testing.T) {
		if _, err := k["cos"]([][]float32{{1}, {2}}); err == nil {
			t.Error("expected arity error for unary kernel")
		}
		if _, err := k["add"]([][]float32{{1}}); err == nil {
			t.Error("expected arity error for binary kernel")
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := k["add"]([][]float32{{1, 2}, {1}})
		if !errors.Is(err, backend.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})

	names := backend.KernelNames(k)
	if len(names) != 11 || names[0] != "abs" {
		t.Errorf("unexpected kernel names: %v", names)
	}
}

func TestSimulated_SingleBackend(t *testing.T) {
	cpu := backend.NewSimulated(nil)
	reg, err := graph.NewRegistry(graph.DeviceCapability{Backend: "cpu", Supports: cpu.Supports})
	if err != nil {
		t.Fatal(err)
	}
	ag, err := graph.Compile(chain(), reg)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	if len(ag.Subgraphs) != 1 {
		t.Fatalf("expected 1 subgraph, got %d", len(ag.Subgraphs))
	}

	out, err := graph.Run(context.Background(), ag, map[graph.Backend]graph.Executor{"cpu": cpu}, input())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	y := out["y"]
	assertClose(t, y.Data, chainWant, 0.01)
	if y.Device != "cpu" || y.Layout != "NCHW" {
		t.Errorf("unexpected tags: device=%q layout=%q", y.Device, y.Layout)
	}
	if len(y.Shape) != 1 || y.Shape[0] != 4 {
		t.Errorf("shape not carried through: %v", y.Shape)
	}
	if cpu.Launches() != 1 {
		t.Errorf("expected 1 launch, got %d", cpu.Launches())
	}
}

// TestThreeBackends runs the chain over an accelerator that owns its units,
// a GPU with a native NHWC layout, and a CPU fallback.
func TestThreeBackends(t *testing.T) {
	npu := backend.NewDelegate(nil)
	gpu := backend.NewSimulated(nil)
	cpu := backend.NewSimulated(nil)

	reg, err := graph.NewRegistry(
		graph.DeviceCapability{Backend: "npu", Supports: graph.Ops("cos"), Dispatch: graph.DispatchPerNode, Delegated: true},
		graph.DeviceCapability{Backend: "gpu", Supports: graph.Ops("cos", "exp"), Layout: "NHWC"},
		graph.DeviceCapability{Backend: "cpu", Supports: cpu.Supports},
	)
	if err != nil {
		t.Fatal(err)
	}
	ag, err := graph.Compile(chain(), reg)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}

	var placed []string
	for _, s := range ag.Subgraphs {
		placed = append(placed, string(s.Backend))
	}
	if want := []string{"npu", "gpu", "cpu", "npu"}; !equal(placed, want) {
		t.Fatalf("placement = %v, want %v", placed, want)
	}
	if ag.Adapters != 2 {
		t.Errorf("expected 2 adapters (into and out of NHWC), got %d", ag.Adapters)
	}

	executors := map[graph.Backend]graph.Executor{"npu": npu, "gpu": gpu, "cpu": cpu}
	rt, err := graph.NewRuntime(ag, executors, graph.WithWorkers(3))
	if err != nil {
		t.Fatalf("NewRuntime failed: %v", err)
	}
	defer rt.Close()

	for _, s := range ag.Subgraphs {
		if s.Delegated && !npu.Prepared(s) {
			t.Errorf("%s was not prepared", s.Name())
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := rt.Run(context.Background(), input())
			if err != nil {
				t.Errorf("run failed: %v", err)
				return
			}
			assertClose(t, out["y"].Data, chainWant, 0.01)
			if out["y"].Device != "npu" {
				t.Errorf("y device = %q, want npu", out["y"].Device)
			}
		}()
	}
	wg.Wait()
}

func TestDelegate_Unprepared(t *testing.T) {
	d := backend.NewDelegate(nil)
	unit := &graph.Subgraph{ID: 0, Backend: "npu"}
	_, err := d.Launch(context.Background(), unit, nil)
	if !errors.Is(err, backend.ErrNotPrepared) {
		t.Fatalf("expected ErrNotPrepared, got %v", err)
	}
}

func TestDelegate_PrepareUnknownKernel(t *testing.T) {
	d := backend.NewDelegate(map[string]backend.Kernel{})
	unit := &graph.Subgraph{
		Backend: "npu",
		Nodes:   []*graph.OperatorNode{{Name: "n", Kind: "conv", Outputs: []string{"y"}}},
	}
	if err := d.Prepare(unit); !errors.Is(err, backend.ErrUnknownKernel) {
		t.Fatalf("expected ErrUnknownKernel, got %v", err)
	}
	if d.Prepared(unit) {
		t.Error("failed unit should not be marked prepared")
	}
}

func TestDelegate_PrepareFailureRejectsRuntime(t *testing.T) {
	reg, _ := graph.NewRegistry(graph.DeviceCapability{Backend: "npu", Supports: graph.Ops("cos", "exp", "elu"), Delegated: true})
	ag, err := graph.Compile(chain(), reg)
	if err != nil {
		t.Fatal(err)
	}
	npu := backend.NewDelegate(map[string]backend.Kernel{"cos": backend.DefaultKernels()["cos"]})
	_, err = graph.NewRuntime(ag, map[graph.Backend]graph.Executor{"npu": npu})
	if !errors.Is(err, graph.ErrConfiguration) || !errors.Is(err, backend.ErrUnknownKernel) {
		t.Fatalf("expected configuration error wrapping ErrUnknownKernel, got %v", err)
	}
}

func TestSimulated_Register(t *testing.T) {
	s := backend.NewSimulated(map[string]backend.Kernel{})
	n := &graph.OperatorNode{Kind: "double"}
	if s.Supports(n) {
		t.Fatal("unexpected support before Register")
	}
	s.Register("double", func(in [][]float32) ([]float32, error) {
		out := make([]float32, len(in[0]))
		for i, v := range in[0] {
			out[i] = 2 * v
		}
		return out, nil
	})
	if !s.Supports(n) {
		t.Fatal("expected support after Register")
	}
}

func TestFaulty(t *testing.T) {
	compile := func(t *testing.T) *graph.ActorGraph {
		t.Helper()
		reg, _ := graph.NewRegistry(graph.DeviceCapability{Backend: "cpu", Supports: graph.Ops("cos", "exp", "elu")})
		ag, err := graph.Compile(chain(), reg)
		if err != nil {
			t.Fatal(err)
		}
		return ag
	}

	t.Run("error", func(t *testing.T) {
		f := &backend.Faulty{Next: backend.NewSimulated(nil), Err: errors.New("device lost")}
		_, err := graph.Run(context.Background(), compile(t), map[graph.Backend]graph.Executor{"cpu": f}, input())
		if !errors.Is(err, graph.ErrBackendExecution) {
			t.Fatalf("expected ErrBackendExecution, got %v", err)
		}
		if f.CallCount() != 1 {
			t.Errorf("expected 1 call, got %d", f.CallCount())
		}
	})

	t.Run("panic", func(t *testing.T) {
		f := &backend.Faulty{Next: backend.NewSimulated(nil), Panic: "kernel crashed"}
		_, err := graph.Run(context.Background(), compile(t), map[graph.Backend]graph.Executor{"cpu": f}, input())
		if !errors.Is(err, graph.ErrBackendExecution) {
			t.Fatalf("expected ErrBackendExecution from panic, got %v", err)
		}
	})

	t.Run("dropped outputs", func(t *testing.T) {
		f := &backend.Faulty{Next: backend.NewSimulated(nil), DropOutputs: true}
		_, err := graph.Run(context.Background(), compile(t), map[graph.Backend]graph.Executor{"cpu": f}, input())
		if !errors.Is(err, graph.ErrBackendExecution) {
			t.Fatalf("expected ErrBackendExecution for short output list, got %v", err)
		}
	})

	t.Run("delay honours cancellation", func(t *testing.T) {
		f := &backend.Faulty{Next: backend.NewSimulated(nil), Delay: time.Minute}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := graph.Run(ctx, compile(t), map[graph.Backend]graph.Executor{"cpu": f}, input())
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("untargeted units pass through", func(t *testing.T) {
		f := &backend.Faulty{Next: backend.NewSimulated(nil), Err: errors.New("boom"), Units: []string{"subgraph-9/cpu"}}
		out, err := graph.Run(context.Background(), compile(t), map[graph.Backend]graph.Executor{"cpu": f}, input())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertClose(t, out["y"].Data, chainWant, 0.01)
		if calls := f.Calls(); len(calls) != 1 || calls[0] != "subgraph-0/cpu" {
			t.Errorf("unexpected calls: %v", calls)
		}
		f.Reset()
		if f.CallCount() != 0 {
			t.Error("Reset did not clear history")
		}
	})
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDelegate_Release(t *testing.T) {
	d := backend.NewDelegate(nil)
	unit := &graph.Subgraph{Backend: "npu", Nodes: []*graph.OperatorNode{{Name: "n", Kind: "cos", Outputs: []string{"y"}}}}
	if err := d.Prepare(unit); err != nil {
		t.Fatal(err)
	}
	d.Release(unit)
	if d.Prepared(unit) {
		t.Error("unit still prepared after Release")
	}
}
