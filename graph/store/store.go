// Package store persists compiled plans and run history for hetgraph runtimes.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested plan or run does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("store is closed")

// Run statuses recorded in RunRecord.Status.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store provides persistence for compiled plans and their run history.
//
// It enables:
//   - Reusing a compiled plan description across processes (by fingerprint)
//   - Auditing run outcomes after the fact
//   - Per-actor latency and failure analysis
//
// Implementations must be safe for concurrent use: a runtime writes actor
// records from many workers at once.
type Store interface {
	// SavePlan upserts a compiled plan keyed by PlanID.
	SavePlan(ctx context.Context, plan PlanRecord) error

	// LoadPlan returns the plan saved under planID, or ErrNotFound.
	LoadPlan(ctx context.Context, planID string) (PlanRecord, error)

	// SaveRun upserts a run record keyed by RunID.
	SaveRun(ctx context.Context, run RunRecord) error

	// LoadRun returns the run saved under runID, or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (RunRecord, error)

	// ListRuns returns the runs of a plan, oldest first. An unknown plan
	// yields an empty slice.
	ListRuns(ctx context.Context, planID string) ([]RunRecord, error)

	// SaveActorRecord appends one actor firing outcome.
	SaveActorRecord(ctx context.Context, rec ActorRecord) error

	// ListActorRecords returns the firing outcomes of a run in the order
	// they were saved.
	ListActorRecords(ctx context.Context, runID string) ([]ActorRecord, error)

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

// PlanRecord is a persisted compiled plan.
type PlanRecord struct {
	// PlanID is the plan fingerprint.
	PlanID string

	// Graph is the name of the source graph.
	Graph string

	// Snapshot is the JSON-encoded plan snapshot.
	Snapshot []byte

	CreatedAt time.Time
}

// RunRecord is the persisted outcome of one run.
type RunRecord struct {
	RunID      string
	Seq        uint64
	PlanID     string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// ActorRecord is the persisted outcome of one actor firing.
type ActorRecord struct {
	RunID      string
	Actor      string
	Backend    string
	Status     string
	Error      string
	DurationMs float64
	RecordedAt time.Time
}
