package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for tests, the CLI's default mode, and short-lived processes
// where history need not survive a restart. MemStore is thread-safe.
//
// Memory grows with the number of runs; callers that run forever should use
// a database-backed store.
type MemStore struct {
	mu     sync.RWMutex
	closed bool
	plans  map[string]PlanRecord
	runs   map[string]RunRecord
	order  map[string][]string // planID -> runIDs in first-save order
	actors map[string][]ActorRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		plans:  make(map[string]PlanRecord),
		runs:   make(map[string]RunRecord),
		order:  make(map[string][]string),
		actors: make(map[string][]ActorRecord),
	}
}

// SavePlan implements Store.
func (m *MemStore) SavePlan(_ context.Context, plan PlanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	if prev, ok := m.plans[plan.PlanID]; ok {
		plan.CreatedAt = prev.CreatedAt
	}
	plan.Snapshot = slices.Clone(plan.Snapshot)
	m.plans[plan.PlanID] = plan
	return nil
}

// LoadPlan implements Store.
func (m *MemStore) LoadPlan(_ context.Context, planID string) (PlanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return PlanRecord{}, ErrClosed
	}
	plan, ok := m.plans[planID]
	if !ok {
		return PlanRecord{}, ErrNotFound
	}
	plan.Snapshot = slices.Clone(plan.Snapshot)
	return plan, nil
}

// SaveRun implements Store.
func (m *MemStore) SaveRun(_ context.Context, run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.runs[run.RunID]; !ok {
		m.order[run.PlanID] = append(m.order[run.PlanID], run.RunID)
	}
	m.runs[run.RunID] = run
	return nil
}

// LoadRun implements Store.
func (m *MemStore) LoadRun(_ context.Context, runID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return RunRecord{}, ErrClosed
	}
	run, ok := m.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return run, nil
}

// ListRuns implements Store.
func (m *MemStore) ListRuns(_ context.Context, planID string) ([]RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	ids := m.order[planID]
	out := make([]RunRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.runs[id])
	}
	return out, nil
}

// SaveActorRecord implements Store.
func (m *MemStore) SaveActorRecord(_ context.Context, rec ActorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	m.actors[rec.RunID] = append(m.actors[rec.RunID], rec)
	return nil
}

// ListActorRecords implements Store.
func (m *MemStore) ListActorRecords(_ context.Context, runID string) ([]ActorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return slices.Clone(m.actors[runID]), nil
}

// Close implements Store.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
