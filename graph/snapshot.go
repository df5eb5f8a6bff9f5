package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// PlanSnapshot is a serializable description of a compiled ActorGraph. Two
// compilations of the same graph against the same registry produce equal
// snapshots.
type PlanSnapshot struct {
	Graph         string             `json:"graph"`
	Subgraphs     []SubgraphSnapshot `json:"subgraphs"`
	Actors        []ActorSnapshot    `json:"actors"`
	DataArrows    []DataArrow        `json:"data_arrows"`
	ControlArrows []ControlArrow     `json:"control_arrows,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

// SubgraphSnapshot records membership and ports of one subgraph.
type SubgraphSnapshot struct {
	ID        int      `json:"id"`
	Backend   Backend  `json:"backend"`
	Nodes     []string `json:"nodes"`
	Inputs    []Port   `json:"inputs,omitempty"`
	Outputs   []Port   `json:"outputs,omitempty"`
	Delegated bool     `json:"delegated,omitempty"`
}

// ActorSnapshot records one actor and its firing threshold.
type ActorSnapshot struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Index     int    `json:"index"`
	Threshold int    `json:"threshold"`
}

// Snapshot captures the plan in a form suitable for comparison and storage.
func (ag *ActorGraph) Snapshot() PlanSnapshot {
	snap := PlanSnapshot{Graph: ag.Name, Warnings: ag.Warnings}
	for _, s := range ag.Subgraphs {
		snap.Subgraphs = append(snap.Subgraphs, SubgraphSnapshot{
			ID:        s.ID,
			Backend:   s.Backend,
			Nodes:     s.NodeNames(),
			Inputs:    s.Inputs,
			Outputs:   s.Outputs,
			Delegated: s.Delegated,
		})
	}
	for _, a := range ag.Actors() {
		snap.Actors = append(snap.Actors, ActorSnapshot{
			Name:      a.Name,
			Kind:      a.Kind.String(),
			Index:     a.Index,
			Threshold: a.threshold,
		})
	}
	snap.DataArrows = ag.DataArrows()
	snap.ControlArrows = ag.ControlArrows()
	return snap
}

// Fingerprint returns the hex SHA-256 of the snapshot's JSON encoding.
func (ag *ActorGraph) Fingerprint() string {
	data, err := json.Marshal(ag.Snapshot())
	if err != nil {
		// Snapshot contains only strings, ints and bools.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
