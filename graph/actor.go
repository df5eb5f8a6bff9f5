package graph

import (
	"fmt"
	"sync"
)

// ActorKind distinguishes the roles an actor can play.
type ActorKind int

const (
	KindInputSeed ActorKind = iota
	KindKernel
	KindDelegate
	KindOutputCollector
)

func (k ActorKind) String() string {
	switch k {
	case KindInputSeed:
		return "input"
	case KindKernel:
		return "kernel"
	case KindDelegate:
		return "delegate"
	case KindOutputCollector:
		return "output"
	}
	return fmt.Sprintf("ActorKind(%d)", int(k))
}

// DataArrow carries one tensor handle from a source actor's output port to a
// destination actor's input port.
type DataArrow struct {
	From       string `json:"from"`
	FromTensor string `json:"from_tensor"`
	To         string `json:"to"`
	ToTensor   string `json:"to_tensor"`
}

// ControlArrow carries a completion signal only.
type ControlArrow struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Actor is a schedulable unit: an input seed, a kernel or delegate wrapping one
// Subgraph, or an output collector. Actors are built once at compile time and
// shared read-only by every run.
type Actor struct {
	Name string
	Kind ActorKind

	// Index is the actor's position in a topological order of the actor graph.
	Index int

	// Subgraph is set for kernel and delegate actors.
	Subgraph *Subgraph

	// Tensor is the graph input or output name for seeds and collectors.
	Tensor string

	InputData     []DataArrow
	InputControl  []ControlArrow
	OutputData    []DataArrow
	OutputControl []ControlArrow

	threshold int
}

// Threshold is the number of messages the actor must accumulate in a run
// before it fires: len(InputData) + len(InputControl), fixed at compile time.
func (a *Actor) Threshold() int { return a.threshold }

// Backend returns the subgraph's backend, or "" for seeds and collectors.
func (a *Actor) Backend() Backend {
	if a.Subgraph == nil {
		return ""
	}
	return a.Subgraph.Backend
}

// ActorState is the per-run state of one actor.
type ActorState int

const (
	StateIdle ActorState = iota
	StateAccumulating
	StateRunning
	StateCompleted
	StateFailed
)

func (s ActorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("ActorState(%d)", int(s))
}

// ActorRegistry maps actor names to actors for one compiled graph. Its
// lifetime is the lifetime of the ActorGraph that owns it, so independent
// graphs never collide on names.
type ActorRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Actor
	order  []*Actor
}

// NewActorRegistry returns an empty registry.
func NewActorRegistry() *ActorRegistry {
	return &ActorRegistry{byName: make(map[string]*Actor)}
}

// Insert adds an actor. Names must be unique within the registry.
func (r *ActorRegistry) Insert(a *Actor) error {
	if a == nil || a.Name == "" {
		return configError("actor name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[a.Name]; exists {
		return &EngineError{Message: "duplicate actor name: " + a.Name, Code: CodeDuplicateActor}
	}
	r.byName[a.Name] = a
	r.order = append(r.order, a)
	return nil
}

// Fetch returns the actor registered under name.
func (r *ActorRegistry) Fetch(name string) (*Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	return a, ok
}

// Actors returns all actors in insertion order.
func (r *ActorRegistry) Actors() []*Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Actor, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered actors.
func (r *ActorRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear drops every actor. It is called when the owning graph is discarded.
func (r *ActorRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*Actor)
	r.order = nil
}
