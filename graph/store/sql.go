package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	name       string
	schema     []string
	upsertPlan string
	upsertRun  string
}

// sqlStore implements Store over database/sql. SQLiteStore and MySQLStore
// wrap it with engine-specific setup.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	s := &sqlStore{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	return s, nil
}

func (s *sqlStore) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (s *sqlStore) SavePlan(ctx context.Context, plan PlanRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertPlan,
		plan.PlanID, plan.Graph, plan.Snapshot, toNanos(plan.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", plan.PlanID, err)
	}
	return nil
}

func (s *sqlStore) LoadPlan(ctx context.Context, planID string) (PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return PlanRecord{}, err
	}
	var (
		plan    PlanRecord
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT plan_id, graph_name, snapshot, created_at FROM hetgraph_plans WHERE plan_id = ?`, planID,
	).Scan(&plan.PlanID, &plan.Graph, &plan.Snapshot, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return PlanRecord{}, ErrNotFound
	}
	if err != nil {
		return PlanRecord{}, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}
	plan.CreatedAt = fromNanos(created)
	return plan, nil
}

func (s *sqlStore) SaveRun(ctx context.Context, run RunRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.dialect.upsertRun,
		run.RunID, int64(run.Seq), run.PlanID, run.Status, run.Error,
		toNanos(run.StartedAt), toNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `run_id, seq, plan_id, status, error_text, started_at, finished_at`

func scanRun(scan func(dest ...any) error) (RunRecord, error) {
	var run RunRecord
	var seq, started, finished int64
	if err := scan(&run.RunID, &seq, &run.PlanID, &run.Status, &run.Error, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	run.Seq = uint64(seq)
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	return run, nil
}

func (s *sqlStore) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return RunRecord{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM hetgraph_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

func (s *sqlStore) ListRuns(ctx context.Context, planID string) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM hetgraph_runs WHERE plan_id = ? ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for plan %s: %w", planID, err)
	}
	defer rows.Close()

	out := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveActorRecord(ctx context.Context, rec ActorRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hetgraph_actor_records (run_id, actor, backend, status, error_text, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Actor, rec.Backend, rec.Status, rec.Error, rec.DurationMs, toNanos(rec.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to save actor record for %s: %w", rec.Actor, err)
	}
	return nil
}

func (s *sqlStore) ListActorRecords(ctx context.Context, runID string) ([]ActorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, actor, backend, status, error_text, duration_ms, recorded_at
		 FROM hetgraph_actor_records WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actor records for run %s: %w", runID, err)
	}
	defer rows.Close()

	out := []ActorRecord{}
	for rows.Next() {
		var (
			rec      ActorRecord
			recorded int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Actor, &rec.Backend, &rec.Status, &rec.Error, &rec.DurationMs, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan actor record: %w", err)
		}
		rec.RecordedAt = fromNanos(recorded)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
