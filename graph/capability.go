package graph

import (
	"fmt"
	"slices"
)

// Backend identifies an execution target such as "npu", "gpu" or "cpu".
type Backend string

// Dispatch selects how a backend's assigned nodes are grouped into subgraphs.
type Dispatch int

const (
	// DispatchBatch groups maximal contiguous runs into one subgraph that is
	// launched as a batch.
	DispatchBatch Dispatch = iota

	// DispatchPerNode makes every assigned node its own subgraph.
	DispatchPerNode
)

func (d Dispatch) String() string {
	if d == DispatchPerNode {
		return "per-node"
	}
	return "batch"
}

// ParseDispatch accepts "batch" or "per-node" (and "" for batch).
func ParseDispatch(s string) (Dispatch, error) {
	switch s {
	case "", "batch":
		return DispatchBatch, nil
	case "per-node", "per_node", "pernode":
		return DispatchPerNode, nil
	}
	return DispatchBatch, configError("unknown dispatch mode %q", s)
}

// DeviceCapability describes one configured backend.
type DeviceCapability struct {
	Backend Backend

	// Supports reports whether the backend can execute the node. It may
	// inspect the node's kind and layout.
	Supports func(*OperatorNode) bool

	// Layout is the backend's native tensor layout. Empty means tensors are
	// consumed and produced in their declared layout.
	Layout Layout

	// Device is the memory location tag stamped on tensors this backend
	// produces. Defaults to the backend tag.
	Device string

	Dispatch Dispatch

	// Delegated backends own their execution: the actor hands the whole
	// unit to the backend instead of launching kernels in a batch.
	Delegated bool
}

func (c DeviceCapability) device() string {
	if c.Device == "" {
		return string(c.Backend)
	}
	return c.Device
}

// Ops returns a Supports predicate for a fixed set of operator kinds.
func Ops(kinds ...string) func(*OperatorNode) bool {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(n *OperatorNode) bool { return set[n.Kind] }
}

// Registry holds the configured backends in strict priority order. It is
// read-only after construction and safe to share between compilations.
type Registry struct {
	caps  []DeviceCapability
	index map[Backend]int
}

// NewRegistry builds a registry whose priority is the argument order, highest
// first. An empty registry is legal here and rejected at partition time.
func NewRegistry(caps ...DeviceCapability) (*Registry, error) {
	r := &Registry{
		caps:  make([]DeviceCapability, 0, len(caps)),
		index: make(map[Backend]int, len(caps)),
	}
	for _, c := range caps {
		if c.Backend == "" {
			return nil, configError("backend tag cannot be empty")
		}
		if c.Supports == nil {
			return nil, configError("backend %q has no support predicate", c.Backend)
		}
		if _, dup := r.index[c.Backend]; dup {
			return nil, configError("duplicate backend %q", c.Backend)
		}
		r.index[c.Backend] = len(r.caps)
		r.caps = append(r.caps, c)
	}
	return r, nil
}

// Supports reports whether backend can execute node. Unknown backends
// support nothing.
func (r *Registry) Supports(backend Backend, node *OperatorNode) bool {
	i, ok := r.index[backend]
	if !ok {
		return false
	}
	return r.caps[i].Supports(node)
}

// Priority returns the backend tags, highest priority first.
func (r *Registry) Priority() []Backend {
	out := make([]Backend, len(r.caps))
	for i, c := range r.caps {
		out[i] = c.Backend
	}
	return out
}

// Lookup returns the capability registered for backend.
func (r *Registry) Lookup(backend Backend) (DeviceCapability, bool) {
	i, ok := r.index[backend]
	if !ok {
		return DeviceCapability{}, false
	}
	return r.caps[i], true
}

// Len returns the number of configured backends.
func (r *Registry) Len() int { return len(r.caps) }

// Reorder returns a registry restricted to backends, in that priority order.
func (r *Registry) Reorder(backends ...Backend) (*Registry, error) {
	caps := make([]DeviceCapability, 0, len(backends))
	for _, b := range backends {
		c, ok := r.Lookup(b)
		if !ok {
			return nil, configError("unknown backend %q (known: %v)", b, r.Priority())
		}
		caps = append(caps, c)
	}
	return NewRegistry(caps...)
}

// assign picks a backend for every node: the first backend in priority order
// that supports it, or the node's affinity if it has one.
func (r *Registry) assign(nodes []*OperatorNode) ([]Backend, error) {
	if len(r.caps) == 0 {
		return nil, configError("backend priority list is empty")
	}
	out := make([]Backend, len(nodes))
	for i, n := range nodes {
		if n.Affinity != "" {
			if !r.Supports(n.Affinity, n) {
				return nil, &EngineError{
					Message: fmt.Sprintf("kind %q is not supported by pinned backend %q", n.Kind, n.Affinity),
					Code:    CodeUnsupportedOperator,
					Node:    n.Name,
				}
			}
			out[i] = n.Affinity
			continue
		}
		idx := slices.IndexFunc(r.caps, func(c DeviceCapability) bool { return c.Supports(n) })
		if idx < 0 {
			return nil, &EngineError{
				Message: fmt.Sprintf("no backend in %v supports kind %q", r.Priority(), n.Kind),
				Code:    CodeUnsupportedOperator,
				Node:    n.Name,
			}
		}
		out[i] = r.caps[idx].Backend
	}
	return out, nil
}
