package graph

import "slices"

// Layout names a tensor memory format, e.g. "NCHW", "NHWC" or "NC4HW4".
// The empty layout means "no preference" when it appears on a backend.
type Layout string

// HostDevice is the device tag carried by graph inputs supplied by the caller.
const HostDevice = "host"

// Tensor is an immutable handle to a dense tensor flowing between actors.
//
// Executors must return new handles rather than mutating their inputs; the
// runtime shares a single handle among every consumer of a tensor.
type Tensor struct {
	Name   string
	Layout Layout
	Device string
	Shape  []int
	Data   []float32
}

// WithDevice returns a shallow copy of t placed on device.
func (t *Tensor) WithDevice(device string) *Tensor {
	c := *t
	c.Device = device
	return &c
}

// TensorSpec declares a graph input or output.
type TensorSpec struct {
	Name   string `json:"name" yaml:"name"`
	Layout Layout `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// OperatorNode is one computation step of a Graph.
//
// Inputs and Outputs are tensor names; a data dependency exists from node P to
// node C when C consumes a tensor P produces. After lists earlier nodes that
// must complete before this one without any tensor being consumed.
type OperatorNode struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`

	// Layout is the declared layout of the node's outputs.
	Layout Layout `json:"layout,omitempty"`

	// Index is the declaration-order position. The partitioner sets it on
	// its own copies; Synthetic adapters carry the index of the node they feed.
	Index int `json:"index"`

	After []string `json:"after,omitempty"`

	// Affinity pins the node to a single backend tag.
	Affinity Backend `json:"affinity,omitempty"`

	// Synthetic marks adapter nodes inserted by the compiler.
	Synthetic bool `json:"synthetic,omitempty"`
}

func (n *OperatorNode) clone() *OperatorNode {
	c := *n
	c.Inputs = slices.Clone(n.Inputs)
	c.Outputs = slices.Clone(n.Outputs)
	c.After = slices.Clone(n.After)
	return &c
}

// Graph is an acyclic computation graph whose node slice is in declaration
// (and therefore topological) order.
type Graph struct {
	Name    string
	Inputs  []TensorSpec
	Outputs []TensorSpec
	Nodes   []*OperatorNode
}

// Validate checks structural well-formedness without modifying the graph.
//
// Declaration order must be a topological order: every tensor a node consumes
// is a graph input or produced by an earlier node, and every After reference
// names an earlier node.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 && len(g.Outputs) == 0 {
		return invalidGraph("", "graph %q is empty", g.Name)
	}

	produced := make(map[string]bool, len(g.Inputs)+len(g.Nodes))
	for _, in := range g.Inputs {
		if in.Name == "" {
			return invalidGraph("", "graph input with empty name")
		}
		if produced[in.Name] {
			return invalidGraph("", "duplicate graph input %q", in.Name)
		}
		produced[in.Name] = true
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		if n == nil || n.Name == "" {
			return invalidGraph("", "node %d has no name", i)
		}
		if seen[n.Name] {
			return invalidGraph(n.Name, "duplicate node name")
		}
		if n.Kind == "" {
			return invalidGraph(n.Name, "node has no kind")
		}
		for _, in := range n.Inputs {
			if !produced[in] {
				return invalidGraph(n.Name, "input %q is not produced by a graph input or an earlier node", in)
			}
		}
		for _, dep := range n.After {
			if !seen[dep] {
				return invalidGraph(n.Name, "ordering dependency %q is not an earlier node", dep)
			}
		}
		for _, out := range n.Outputs {
			if out == "" {
				return invalidGraph(n.Name, "empty output name")
			}
			if produced[out] {
				return invalidGraph(n.Name, "tensor %q is produced more than once", out)
			}
			produced[out] = true
		}
		seen[n.Name] = true
	}

	outs := make(map[string]bool, len(g.Outputs))
	for _, out := range g.Outputs {
		if !produced[out.Name] {
			return invalidGraph("", "graph output %q is never produced", out.Name)
		}
		if outs[out.Name] {
			return invalidGraph("", "duplicate graph output %q", out.Name)
		}
		outs[out.Name] = true
	}
	return nil
}

// declaredLayouts maps every tensor to the layout its producer declares.
func (g *Graph) declaredLayouts() map[string]Layout {
	m := make(map[string]Layout, len(g.Inputs)+len(g.Nodes))
	for _, in := range g.Inputs {
		m[in.Name] = in.Layout
	}
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			m[out] = n.Layout
		}
	}
	return m
}
