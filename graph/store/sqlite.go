package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS hetgraph_plans (
			plan_id TEXT PRIMARY KEY,
			graph_name TEXT NOT NULL,
			snapshot BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS hetgraph_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			seq INTEGER NOT NULL,
			plan_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_plan_id ON hetgraph_runs(plan_id)`,
		`CREATE TABLE IF NOT EXISTS hetgraph_actor_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			backend TEXT NOT NULL,
			status TEXT NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			duration_ms REAL NOT NULL,
			recorded_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actor_records_run_id ON hetgraph_actor_records(run_id)`,
	},
	upsertPlan: `INSERT INTO hetgraph_plans (plan_id, graph_name, snapshot, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET graph_name = excluded.graph_name, snapshot = excluded.snapshot`,
	upsertRun: `INSERT INTO hetgraph_runs (run_id, seq, plan_id, status, error_text, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			error_text = excluded.error_text,
			finished_at = excluded.finished_at`,
}

// SQLiteStore is a SQLite implementation of Store using the pure-Go
// modernc.org/sqlite driver.
//
// Designed for:
//   - Development and testing with zero setup
//   - Single-process runtimes that want history across restarts
//
// SQLiteStore uses WAL mode and a single connection, since SQLite supports
// one writer at a time.
type SQLiteStore struct {
	*sqlStore
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./hetgraph.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	inner, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: inner, path: path}, nil
}

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }
