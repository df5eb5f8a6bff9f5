// Package graphfile loads a graph description and its backend declarations
// from YAML, for the hetgraph command.
//
// A file looks like:
//
//	name: chain
//	inputs:
//	  - {name: x, layout: NCHW, values: [1, 2, 3, 4]}
//	outputs:
//	  - {name: y, layout: NCHW}
//	nodes:
//	  - {name: c1, kind: cos, inputs: [x], outputs: [t1], layout: NCHW}
//	  - {name: e1, kind: exp, inputs: [t1], outputs: [y], layout: NCHW}
//	backends:
//	  - {tag: gpu, ops: [cos], layout: NHWC, device: gpu0}
//	  - {tag: cpu}
//
// Backends are listed highest priority first. A backend without ops
// supports every kernel it has.
package graphfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/hetgraph/graph"
	"github.com/dshills/hetgraph/graph/backend"
)

// ErrInvalidFile is wrapped by every semantic error in a graph file.
var ErrInvalidFile = errors.New("invalid graph file")

type File struct {
	Name     string             `yaml:"name"`
	Inputs   []InputDecl        `yaml:"inputs"`
	Outputs  []graph.TensorSpec `yaml:"outputs"`
	Nodes    []NodeDecl         `yaml:"nodes"`
	Backends []BackendDecl      `yaml:"backends"`
}

// InputDecl declares a graph input. Values, when present, are used as the
// input tensor unless the caller supplies one.
type InputDecl struct {
	Name   string    `yaml:"name"`
	Layout string    `yaml:"layout,omitempty"`
	Shape  []int     `yaml:"shape,omitempty"`
	Values []float32 `yaml:"values,omitempty"`
}

type NodeDecl struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Inputs   []string `yaml:"inputs,omitempty"`
	Outputs  []string `yaml:"outputs,omitempty"`
	Layout   string   `yaml:"layout,omitempty"`
	After    []string `yaml:"after,omitempty"`
	Affinity string   `yaml:"affinity,omitempty"`
}

type BackendDecl struct {
	Tag       string   `yaml:"tag"`
	Ops       []string `yaml:"ops,omitempty"`
	Layout    string   `yaml:"layout,omitempty"`
	Device    string   `yaml:"device,omitempty"`
	Dispatch  string   `yaml:"dispatch,omitempty"`
	Delegated bool     `yaml:"delegated,omitempty"`

	// Remote is the launch URL of a device server. Empty runs in process.
	Remote string `yaml:"remote,omitempty"`

	// Kernels maps operator kinds to built-in kernels, e.g. conv2d: relu.
	Kernels map[string]string `yaml:"kernels,omitempty"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a graph file. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidFile)
		}
		return nil, fmt.Errorf("decode graph file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Backends) == 0 {
		return fmt.Errorf("%w: no backends declared", ErrInvalidFile)
	}
	for _, b := range f.Backends {
		if b.Tag == "" {
			return fmt.Errorf("%w: backend without tag", ErrInvalidFile)
		}
		if _, err := graph.ParseDispatch(b.Dispatch); err != nil {
			return fmt.Errorf("%w: backend %s: %v", ErrInvalidFile, b.Tag, err)
		}
		kernels, err := b.kernels()
		if err != nil {
			return err
		}
		if b.Remote != "" {
			continue
		}
		for _, op := range b.Ops {
			if _, ok := kernels[op]; !ok {
				return fmt.Errorf("%w: backend %s: op %q: %w", ErrInvalidFile, b.Tag, op, backend.ErrUnknownKernel)
			}
		}
	}
	for _, in := range f.Inputs {
		if len(in.Shape) == 0 || len(in.Values) == 0 {
			continue
		}
		size := 1
		for _, d := range in.Shape {
			size *= d
		}
		if size != len(in.Values) {
			return fmt.Errorf("%w: input %s: shape %v holds %d values, got %d", ErrInvalidFile, in.Name, in.Shape, size, len(in.Values))
		}
	}
	return nil
}

// kernels returns the built-in kernels plus the declared aliases.
func (b BackendDecl) kernels() (map[string]backend.Kernel, error) {
	kernels := backend.DefaultKernels()
	for kind, target := range b.Kernels {
		k, ok := kernels[target]
		if !ok {
			return nil, fmt.Errorf("%w: backend %s: alias %s -> %q: %w", ErrInvalidFile, b.Tag, kind, target, backend.ErrUnknownKernel)
		}
		kernels[kind] = k
	}
	return kernels, nil
}

func (b BackendDecl) ops() ([]string, error) {
	if len(b.Ops) > 0 {
		return b.Ops, nil
	}
	kernels, err := b.kernels()
	if err != nil {
		return nil, err
	}
	return backend.KernelNames(kernels), nil
}

// Graph returns the declared graph.
func (f *File) Graph() *graph.Graph {
	g := &graph.Graph{
		Name:    f.Name,
		Inputs:  make([]graph.TensorSpec, len(f.Inputs)),
		Outputs: append([]graph.TensorSpec(nil), f.Outputs...),
		Nodes:   make([]*graph.OperatorNode, len(f.Nodes)),
	}
	for i, in := range f.Inputs {
		g.Inputs[i] = graph.TensorSpec{Name: in.Name, Layout: graph.Layout(in.Layout)}
	}
	for i, n := range f.Nodes {
		g.Nodes[i] = &graph.OperatorNode{
			Name:     n.Name,
			Kind:     n.Kind,
			Inputs:   n.Inputs,
			Outputs:  n.Outputs,
			Layout:   graph.Layout(n.Layout),
			After:    n.After,
			Affinity: graph.Backend(n.Affinity),
		}
	}
	return g
}

// Registry returns the declared backends in file order, or restricted to and
// ordered by priority when it is non-empty.
func (f *File) Registry(priority ...string) (*graph.Registry, error) {
	caps := make([]graph.DeviceCapability, 0, len(f.Backends))
	for _, b := range f.Backends {
		dispatch, err := graph.ParseDispatch(b.Dispatch)
		if err != nil {
			return nil, err
		}
		ops, err := b.ops()
		if err != nil {
			return nil, err
		}
		caps = append(caps, graph.DeviceCapability{
			Backend:   graph.Backend(b.Tag),
			Supports:  graph.Ops(ops...),
			Layout:    graph.Layout(b.Layout),
			Device:    b.Device,
			Dispatch:  dispatch,
			Delegated: b.Delegated,
		})
	}
	reg, err := graph.NewRegistry(caps...)
	if err != nil {
		return nil, err
	}
	if len(priority) == 0 {
		return reg, nil
	}
	order := make([]graph.Backend, len(priority))
	for i, p := range priority {
		order[i] = graph.Backend(p)
	}
	return reg.Reorder(order...)
}

// Executors returns one reference executor per declared backend: a Remote
// client when a URL is set, a Delegate for delegated backends and a
// Simulated executor otherwise.
func (f *File) Executors() (map[graph.Backend]graph.Executor, error) {
	out := make(map[graph.Backend]graph.Executor, len(f.Backends))
	for _, b := range f.Backends {
		if b.Remote != "" {
			out[graph.Backend(b.Tag)] = backend.NewRemote(b.Remote)
			continue
		}
		kernels, err := b.kernels()
		if err != nil {
			return nil, err
		}
		if b.Delegated {
			out[graph.Backend(b.Tag)] = backend.NewDelegate(kernels)
		} else {
			out[graph.Backend(b.Tag)] = backend.NewSimulated(kernels)
		}
	}
	return out, nil
}

// Tensors returns the inputs that declare values, keyed by name.
func (f *File) Tensors() map[string]*graph.Tensor {
	out := make(map[string]*graph.Tensor)
	for _, in := range f.Inputs {
		if len(in.Values) == 0 {
			continue
		}
		shape := in.Shape
		if len(shape) == 0 {
			shape = []int{len(in.Values)}
		}
		out[in.Name] = &graph.Tensor{
			Name:   in.Name,
			Layout: graph.Layout(in.Layout),
			Shape:  append([]int(nil), shape...),
			Data:   append([]float32(nil), in.Values...),
		}
	}
	return out
}
