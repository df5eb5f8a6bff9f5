package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS hetgraph_plans (
			plan_id VARCHAR(64) NOT NULL PRIMARY KEY,
			graph_name VARCHAR(255) NOT NULL,
			snapshot LONGBLOB NOT NULL,
			created_at BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS hetgraph_runs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			seq BIGINT NOT NULL,
			plan_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_text TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0,
			UNIQUE KEY unique_run_id (run_id),
			INDEX idx_plan_id (plan_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS hetgraph_actor_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			actor VARCHAR(255) NOT NULL,
			backend VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			error_text TEXT NOT NULL,
			duration_ms DOUBLE NOT NULL,
			recorded_at BIGINT NOT NULL,
			INDEX idx_run_id (run_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertPlan: `INSERT INTO hetgraph_plans (plan_id, graph_name, snapshot, created_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE graph_name = VALUES(graph_name), snapshot = VALUES(snapshot)`,
	upsertRun: `INSERT INTO hetgraph_runs (run_id, seq, plan_id, status, error_text, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			error_text = VALUES(error_text),
			finished_at = VALUES(finished_at)`,
}

// MySQLStore is a MySQL/MariaDB implementation of Store for runtimes whose
// history is shared between processes.
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore connects using a go-sql-driver DSN such as
//
//	user:password@tcp(localhost:3306)/hetgraph
//
// Never hardcode credentials; read the DSN from the environment or config.
// The store pings the server and creates its tables before returning.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	inner, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: inner}, nil
}
