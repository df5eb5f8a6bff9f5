package graph

import "fmt"

// AdapterKind is the operator kind of synthetic layout conversion nodes.
const AdapterKind = "to_format"

func adapterTensor(tensor string, layout Layout) string {
	return tensor + "@" + string(layout)
}

func newAdapter(s *Subgraph, from string, to Layout, index int) *OperatorNode {
	out := adapterTensor(from, to)
	return &OperatorNode{
		Name:      fmt.Sprintf("%s_%d_%s", AdapterKind, s.ID, out),
		Kind:      AdapterKind,
		Inputs:    []string{from},
		Outputs:   []string{out},
		Layout:    to,
		Index:     index,
		Synthetic: true,
	}
}

// seenLayout is the layout members of s observe for input port p: the layout
// of an adapter already converting p, or the layout p arrives in.
func (s *Subgraph) seenLayout(p Port) Layout {
	for _, n := range s.Nodes {
		if n.Synthetic && n.Kind == AdapterKind && len(n.Inputs) == 1 && n.Inputs[0] == p.Tensor {
			return n.Layout
		}
	}
	return p.Layout
}

// InsertAdapters inserts a layout conversion wherever a tensor arrives at a
// subgraph in a layout other than the one its members require, and wherever
// a graph output would reach its collector in a layout other than its
// declared one. It returns the number of adapters added.
//
// Input-side adapters become the first member of the consuming subgraph and
// member inputs are rewired to the converted tensor. Output-side adapters are
// appended to the producing subgraph and the collector's arrow is re-pointed
// at the converted port. Both checks compare layouts, so running the pass on
// an adapted graph adds nothing.
func InsertAdapters(ag *ActorGraph) int {
	added := 0

	for _, a := range ag.Actors() {
		s := a.Subgraph
		if s == nil {
			continue
		}
		for _, p := range s.Inputs {
			want := s.requiredLayout(ag.declared[p.Tensor])
			if want == "" || s.seenLayout(p) == want {
				continue
			}
			adapter := newAdapter(s, p.Tensor, want, s.Nodes[0].Index)
			conv := adapter.Outputs[0]
			for _, n := range s.Nodes {
				for i, in := range n.Inputs {
					if in == p.Tensor {
						n.Inputs[i] = conv
					}
				}
			}
			s.Nodes = append([]*OperatorNode{adapter}, s.Nodes...)
			added++
		}
	}

	for _, c := range ag.Collectors {
		arrow := c.InputData[0]
		src, ok := ag.registry.Fetch(arrow.From)
		if !ok || src.Subgraph == nil {
			continue
		}
		s := src.Subgraph
		want := ag.declared[c.Tensor]
		i, ok := s.outputPort(arrow.FromTensor)
		if !ok || want == "" || s.Outputs[i].Layout == want {
			continue
		}
		last := s.Nodes[len(s.Nodes)-1]
		adapter := newAdapter(s, arrow.FromTensor, want, last.Index)
		conv := adapter.Outputs[0]
		s.Nodes = append(s.Nodes, adapter)
		s.Outputs = append(s.Outputs, Port{Tensor: conv, Layout: want, Device: s.Device})

		c.InputData[0].FromTensor = conv
		for j := range src.OutputData {
			if src.OutputData[j].To == c.Name {
				src.OutputData[j].FromTensor = conv
			}
		}
		added++
	}

	return added
}
