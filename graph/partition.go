package graph

import "fmt"

// Port is one tensor crossing a subgraph boundary.
//
// For input ports Layout and Device describe the tensor as it arrives from
// its producer. For output ports they describe the tensor as it leaves.
type Port struct {
	Tensor string `json:"tensor"`
	Layout Layout `json:"layout,omitempty"`
	Device string `json:"device"`
}

// Subgraph is a contiguous run of nodes assigned to one backend. Each
// Subgraph is executed by exactly one actor.
//
// Nodes are private copies of the graph's nodes; the adapter inserter may
// prepend or append synthetic members and rewire member inputs.
type Subgraph struct {
	ID        int
	Backend   Backend
	Nodes     []*OperatorNode
	Inputs    []Port
	Outputs   []Port
	Layout    Layout
	Device    string
	Delegated bool
}

// Name is the unique actor name for the subgraph.
func (s *Subgraph) Name() string {
	return fmt.Sprintf("subgraph-%d/%s", s.ID, s.Backend)
}

// NodeNames returns the member names in execution order.
func (s *Subgraph) NodeNames() []string {
	names := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		names[i] = n.Name
	}
	return names
}

// outputLayout is the layout a member's outputs actually have on this backend.
func (s *Subgraph) outputLayout(n *OperatorNode) Layout {
	if n.Synthetic || s.Layout == "" {
		return n.Layout
	}
	return s.Layout
}

// requiredLayout is the layout members expect for a tensor declared as declared.
func (s *Subgraph) requiredLayout(declared Layout) Layout {
	if s.Layout != "" {
		return s.Layout
	}
	return declared
}

func (s *Subgraph) inputPort(tensor string) (int, bool) {
	for i, p := range s.Inputs {
		if p.Tensor == tensor {
			return i, true
		}
	}
	return -1, false
}

func (s *Subgraph) outputPort(tensor string) (int, bool) {
	for i, p := range s.Outputs {
		if p.Tensor == tensor {
			return i, true
		}
	}
	return -1, false
}

// Assign returns the backend chosen for every node of g, in declaration order.
// The first backend in priority order that supports a node wins.
func Assign(g *Graph, reg *Registry) ([]Backend, error) {
	if reg == nil {
		return nil, configError("registry is nil")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return reg.assign(g.Nodes)
}

// Partition assigns every node of g a backend and groups maximal runs of
// consecutive same-backend nodes into subgraphs. Contiguity is decided by
// declaration order only. Backends configured with DispatchPerNode get one
// subgraph per assigned node.
func Partition(g *Graph, reg *Registry) ([]*Subgraph, error) {
	assigned, err := Assign(g, reg)
	if err != nil {
		return nil, err
	}

	var (
		subs []*Subgraph
		cur  *Subgraph
	)
	for i, n := range g.Nodes {
		c, _ := reg.Lookup(assigned[i])
		if cur == nil || cur.Backend != c.Backend || c.Dispatch == DispatchPerNode {
			cur = &Subgraph{
				ID:        len(subs),
				Backend:   c.Backend,
				Layout:    c.Layout,
				Device:    c.device(),
				Delegated: c.Delegated,
			}
			subs = append(subs, cur)
		}
		member := n.clone()
		member.Index = i
		cur.Nodes = append(cur.Nodes, member)
	}

	wirePorts(g, subs)
	return subs, nil
}

// wirePorts computes input and output ports for every subgraph. A tensor is
// an output port when it is consumed by another subgraph or is a graph output.
func wirePorts(g *Graph, subs []*Subgraph) {
	declared := g.declaredLayouts()
	owner := make(map[string]*Subgraph)
	effective := make(map[string]Layout)
	for _, s := range subs {
		for _, n := range s.Nodes {
			for _, out := range n.Outputs {
				owner[out] = s
				effective[out] = s.outputLayout(n)
			}
		}
	}

	exported := make(map[string]bool)
	for _, out := range g.Outputs {
		exported[out.Name] = true
	}

	for _, s := range subs {
		for _, n := range s.Nodes {
			for _, in := range n.Inputs {
				src := owner[in]
				if src == s {
					continue
				}
				if _, ok := s.inputPort(in); ok {
					continue
				}
				port := Port{Tensor: in, Layout: declared[in], Device: HostDevice}
				if src != nil {
					port.Layout = effective[in]
					port.Device = src.Device
					exported[in] = true
				}
				s.Inputs = append(s.Inputs, port)
			}
		}
	}

	for _, s := range subs {
		for _, n := range s.Nodes {
			for _, out := range n.Outputs {
				if exported[out] {
					s.Outputs = append(s.Outputs, Port{Tensor: out, Layout: effective[out], Device: s.Device})
				}
			}
		}
	}
}
