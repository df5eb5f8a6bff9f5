package graph

import (
	"fmt"
	"log/slog"
	"slices"
)

// CompileOption configures Compile.
type CompileOption func(*compileConfig) error

type compileConfig struct {
	logger *slog.Logger
}

// WithCompileLogger sets the logger that receives compile warnings.
// Defaults to slog.Default().
func WithCompileLogger(logger *slog.Logger) CompileOption {
	return func(cfg *compileConfig) error {
		if logger == nil {
			return configError("compile logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// ActorGraph is the compiled, executable form of a Graph. It is immutable
// after Compile returns and may be shared by any number of concurrent runs.
type ActorGraph struct {
	Name    string
	Inputs  []TensorSpec
	Outputs []TensorSpec

	Subgraphs  []*Subgraph
	Seeds      []*Actor
	Collectors []*Actor

	// Warnings lists non-fatal compile findings such as dead subgraphs.
	Warnings []string

	// Adapters is the number of adapter nodes inserted during compilation.
	Adapters int

	registry *ActorRegistry
	declared map[string]Layout
}

// Registry returns the graph-scoped actor registry.
func (ag *ActorGraph) Registry() *ActorRegistry { return ag.registry }

// Actors returns every actor in topological order: seeds, then subgraph
// actors in declaration order, then collectors.
func (ag *ActorGraph) Actors() []*Actor { return ag.registry.Actors() }

// Actor looks up an actor by name.
func (ag *ActorGraph) Actor(name string) (*Actor, bool) { return ag.registry.Fetch(name) }

// Backends returns the distinct backends used by the graph in first-use order.
func (ag *ActorGraph) Backends() []Backend {
	var out []Backend
	for _, s := range ag.Subgraphs {
		if !slices.Contains(out, s.Backend) {
			out = append(out, s.Backend)
		}
	}
	return out
}

// DataArrows returns every data arrow, grouped by source actor.
func (ag *ActorGraph) DataArrows() []DataArrow {
	var out []DataArrow
	for _, a := range ag.Actors() {
		out = append(out, a.OutputData...)
	}
	return out
}

// ControlArrows returns every control arrow, grouped by source actor.
func (ag *ActorGraph) ControlArrows() []ControlArrow {
	var out []ControlArrow
	for _, a := range ag.Actors() {
		out = append(out, a.OutputControl...)
	}
	return out
}

// Release drops the graph's actor registry. The graph must not be run again.
func (ag *ActorGraph) Release() { ag.registry.Clear() }

func (ag *ActorGraph) connect(src, dst *Actor, fromTensor, toTensor string) {
	arrow := DataArrow{From: src.Name, FromTensor: fromTensor, To: dst.Name, ToTensor: toTensor}
	src.OutputData = append(src.OutputData, arrow)
	dst.InputData = append(dst.InputData, arrow)
}

func linked(src, dst *Actor) bool {
	for _, a := range src.OutputData {
		if a.To == dst.Name {
			return true
		}
	}
	for _, c := range src.OutputControl {
		if c.To == dst.Name {
			return true
		}
	}
	return false
}

// Compile partitions g over the registry's backends and lowers the result
// into an actor graph: one actor per subgraph, one seed per graph input, one
// collector per graph output. Tensor dependencies that cross subgraph
// boundaries become data arrows and pure ordering dependencies become control
// arrows. Adapters are inserted where layouts disagree, then firing
// thresholds are frozen.
func Compile(g *Graph, reg *Registry, opts ...CompileOption) (*ActorGraph, error) {
	cfg := compileConfig{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	subs, err := Partition(g, reg)
	if err != nil {
		return nil, err
	}

	ag := &ActorGraph{
		Name:      g.Name,
		Inputs:    slices.Clone(g.Inputs),
		Outputs:   slices.Clone(g.Outputs),
		Subgraphs: subs,
		registry:  NewActorRegistry(),
		declared:  g.declaredLayouts(),
	}

	producer := make(map[string]*Actor)
	nodeActor := make(map[string]*Actor)

	add := func(a *Actor) error {
		a.Index = ag.registry.Len()
		return ag.registry.Insert(a)
	}

	for _, in := range g.Inputs {
		a := &Actor{Name: "input:" + in.Name, Kind: KindInputSeed, Tensor: in.Name}
		if err := add(a); err != nil {
			return nil, err
		}
		ag.Seeds = append(ag.Seeds, a)
		producer[in.Name] = a
	}

	for _, s := range subs {
		kind := KindKernel
		if s.Delegated {
			kind = KindDelegate
		}
		a := &Actor{Name: s.Name(), Kind: kind, Subgraph: s}
		if err := add(a); err != nil {
			return nil, err
		}
		for _, n := range s.Nodes {
			nodeActor[n.Name] = a
		}
		for _, p := range s.Outputs {
			producer[p.Tensor] = a
		}
	}

	for _, out := range g.Outputs {
		a := &Actor{Name: "output:" + out.Name, Kind: KindOutputCollector, Tensor: out.Name}
		if err := add(a); err != nil {
			return nil, err
		}
		ag.Collectors = append(ag.Collectors, a)
	}

	for _, s := range subs {
		dst, _ := ag.registry.Fetch(s.Name())
		for _, p := range s.Inputs {
			ag.connect(producer[p.Tensor], dst, p.Tensor, p.Tensor)
		}
	}
	for _, c := range ag.Collectors {
		ag.connect(producer[c.Tensor], c, c.Tensor, c.Tensor)
	}

	for _, s := range subs {
		dst, _ := ag.registry.Fetch(s.Name())
		for _, n := range s.Nodes {
			for _, dep := range n.After {
				src := nodeActor[dep]
				if src == dst || linked(src, dst) {
					continue
				}
				arrow := ControlArrow{From: src.Name, To: dst.Name}
				src.OutputControl = append(src.OutputControl, arrow)
				dst.InputControl = append(dst.InputControl, arrow)
			}
		}
	}

	ag.Adapters = InsertAdapters(ag)

	for _, a := range ag.Actors() {
		a.threshold = len(a.InputData) + len(a.InputControl)
		if a.Kind == KindOutputCollector || len(a.OutputData) > 0 || len(a.OutputControl) > 0 {
			continue
		}
		var msg string
		if a.Kind == KindInputSeed {
			msg = fmt.Sprintf("graph input %q is never consumed", a.Tensor)
		} else {
			msg = fmt.Sprintf("%s has no consumers and produces no graph output", a.Name)
		}
		ag.Warnings = append(ag.Warnings, msg)
		cfg.logger.Warn("dead code in compiled graph", "graph", g.Name, "actor", a.Name, "detail", msg)
	}

	return ag, nil
}
