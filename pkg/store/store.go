// Package store implements the persistent store contract (C8): the
// checkpoint put/get_tuple pair langgraph-style orchestration relies on,
// plus a namespaced key/value store for large results, phase summaries,
// replay patterns, and tabular snapshots offloaded out of AnalysisState.
// Backed by database/sql against sqlite (mattn/go-sqlite3) or postgres
// (lib/pq), following the dialect-switch pattern of the teacher's
// pkg/agent/task_service_sql.go.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Namespace builders for the well-known namespaces named in SPEC_FULL.md §4.

// AgentResultsNamespace holds large (>10kB or >100-item) agent results
// offloaded out of a ResultSlot's inline field.
func AgentResultsNamespace(caseID string) string {
	return "agent_results/" + caseID
}

// PhaseSummariesNamespace holds context-compaction summaries (C9).
func PhaseSummariesNamespace(caseID string) string {
	return "phase_summaries/" + caseID
}

// TabularNamespace holds the xlsx snapshot artifact for a tabular review (C11).
func TabularNamespace(reviewID string) string {
	return "tabular/" + reviewID
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_store (
    namespace  VARCHAR(255) NOT NULL,
    key        VARCHAR(255) NOT NULL,
    value      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS checkpoints (
    thread_id  VARCHAR(255) PRIMARY KEY,
    data       TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// Backend is the synchronous persistence contract. An AsyncStore wraps a
// Backend to present the non-blocking put/get_tuple interface the rest of
// the orchestrator consumes.
type Backend interface {
	// Put writes value under namespace/key, overwriting any prior value.
	Put(ctx context.Context, namespace, key string, value []byte) error
	// Get reads the value at namespace/key. found is false if absent.
	Get(ctx context.Context, namespace, key string) (value []byte, found bool, err error)
	// List returns all keys currently stored under namespace.
	List(ctx context.Context, namespace string) ([]string, error)
	// Delete removes namespace/key. Deleting an absent key is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// PutCheckpoint persists the latest checkpoint for a thread.
	PutCheckpoint(ctx context.Context, threadID string, data []byte) error
	// GetCheckpointTuple returns the latest checkpoint for a thread, if any.
	GetCheckpointTuple(ctx context.Context, threadID string) (data []byte, found bool, err error)

	Close() error
}

// sqlBackend implements Backend over database/sql, parameterizing
// placeholders by dialect the way task_service_sql.go does ("?" for
// sqlite, "$N" for postgres).
type sqlBackend struct {
	db      *sql.DB
	dialect string
}

// Open opens a Backend for the given dialect ("sqlite" or "postgres") and
// data source name. For sqlite, dsn is a file path (or ":memory:").
func Open(dialect, dsn string) (Backend, error) {
	driverName := dialect
	switch dialect {
	case "sqlite", "sqlite3":
		driverName = "sqlite3"
		dialect = "sqlite"
	case "postgres":
		driverName = "postgres"
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q (valid: sqlite, postgres)", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dialect, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dialect, err)
	}

	b := &sqlBackend{db: db, dialect: dialect}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqlBackend) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := b.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// ph returns the Nth (1-indexed) placeholder for the backend's dialect.
func (b *sqlBackend) ph(n int) string {
	if b.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (b *sqlBackend) Put(ctx context.Context, namespace, key string, value []byte) error {
	var query string
	if b.dialect == "postgres" {
		query = `INSERT INTO kv_store (namespace, key, value, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	} else {
		query = `INSERT INTO kv_store (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	}
	_, err := b.db.ExecContext(ctx, query, namespace, key, string(value), time.Now())
	if err != nil {
		return fmt.Errorf("store: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (b *sqlBackend) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT value FROM kv_store WHERE namespace = %s AND key = %s", b.ph(1), b.ph(2))
	var value string
	err := b.db.QueryRowContext(ctx, query, namespace, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", namespace, key, err)
	}
	return []byte(value), true, nil
}

func (b *sqlBackend) List(ctx context.Context, namespace string) ([]string, error) {
	query := fmt.Sprintf("SELECT key FROM kv_store WHERE namespace = %s ORDER BY key", b.ph(1))
	rows, err := b.db.QueryContext(ctx, query, namespace)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", namespace, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *sqlBackend) Delete(ctx context.Context, namespace, key string) error {
	query := fmt.Sprintf("DELETE FROM kv_store WHERE namespace = %s AND key = %s", b.ph(1), b.ph(2))
	_, err := b.db.ExecContext(ctx, query, namespace, key)
	if err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (b *sqlBackend) PutCheckpoint(ctx context.Context, threadID string, data []byte) error {
	var query string
	if b.dialect == "postgres" {
		query = `INSERT INTO checkpoints (thread_id, data, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (thread_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	} else {
		query = `INSERT INTO checkpoints (thread_id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT (thread_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	}
	_, err := b.db.ExecContext(ctx, query, threadID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("store: put checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (b *sqlBackend) GetCheckpointTuple(ctx context.Context, threadID string) ([]byte, bool, error) {
	query := fmt.Sprintf("SELECT data FROM checkpoints WHERE thread_id = %s", b.ph(1))
	var data string
	err := b.db.QueryRowContext(ctx, query, threadID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get checkpoint %s: %w", threadID, err)
	}
	return []byte(data), true, nil
}

func (b *sqlBackend) Close() error {
	return b.db.Close()
}
