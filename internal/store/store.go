// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orchestra-run/orchestra/internal/metrics"
	orchestraerrors "github.com/orchestra-run/orchestra/pkg/errors"
)

// Config contains SQLite connection configuration. Defaults match
// SPEC_FULL.md's configuration section.
type Config struct {
	// Path is the database file path, e.g. "./shared/database/app.db".
	Path string

	// BusyTimeout bounds how long a writer waits on lock contention.
	// Default: 5s.
	BusyTimeout time.Duration

	// CacheSizeKiB sets SQLite's page cache size. Default: 64 MiB.
	CacheSizeKiB int

	// StatementCacheSize bounds the number of prepared statements kept
	// alive at once. Default: 128.
	StatementCacheSize int
}

func (c Config) busyTimeoutMs() int64 {
	if c.BusyTimeout > 0 {
		return c.BusyTimeout.Milliseconds()
	}
	return 5000
}

func (c Config) cacheSizeKiB() int {
	if c.CacheSizeKiB > 0 {
		return c.CacheSizeKiB
	}
	return 64 * 1024
}

func (c Config) statementCacheSize() int {
	if c.StatementCacheSize > 0 {
		return c.StatementCacheSize
	}
	return 128
}

// Store is the embedded relational persistence handle: a single SQLite
// file in WAL mode, a bounded prepared-statement cache, and a
// non-nesting transaction helper.
type Store struct {
	db    *sql.DB
	stmts *stmtCache
}

// txKey marks a context as already inside a Store transaction, so a
// nested Transaction call can fail fast instead of silently no-op-ing.
type txKey struct{}

// Open opens the store at cfg.Path, applying pragmas and running
// migrations. Returns StoreError if the file cannot be opened or the
// initial integrity check fails.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "open", Cause: err}
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// churn between the Go connection pool and SQLite's own locking.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &orchestraerrors.StoreError{Op: "open", Cause: err}
	}

	s := &Store{
		db:    db,
		stmts: newStmtCache(db, cfg.statementCacheSize()),
	}

	if err := s.configurePragmas(ctx, cfg); err != nil {
		db.Close()
		return nil, &orchestraerrors.StoreError{Op: "configure", Cause: err}
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, &orchestraerrors.StoreError{Op: "migrate", Cause: err}
	}

	if err := s.HealthCheck(ctx); err != nil {
		db.Close()
		return nil, &orchestraerrors.StoreError{Op: "open", Cause: err}
	}

	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, cfg Config) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeoutMs()),
		fmt.Sprintf("PRAGMA cache_size=-%d", cfg.cacheSizeKiB()),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// HealthCheck issues a trivial read and reports whether the store is
// reachable and sane.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return &orchestraerrors.StoreError{Op: "health_check", Cause: err}
	}
	if one != 1 {
		return &orchestraerrors.StoreError{Op: "health_check", Cause: fmt.Errorf("unexpected result %d", one)}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction executes fn within a single atomic unit, labeling the
// latency it reports to metrics.ObserveStoreTransaction with operation
// (e.g. "advance_step", "resume_execution"). Nested calls (a
// Transaction invoked with a ctx that already carries one) fail fast
// rather than silently flattening, per the Store's no-nesting contract.
func (s *Store) Transaction(ctx context.Context, operation string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if ctx.Value(txKey{}) != nil {
		return &orchestraerrors.StoreError{Op: "transaction", Cause: fmt.Errorf("nested transactions are not permitted")}
	}

	start := time.Now()
	defer func() { metrics.ObserveStoreTransaction(operation, time.Since(start)) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "transaction", Cause: err}
	}

	txCtx := context.WithValue(ctx, txKey{}, struct{}{})

	if err := fn(txCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &orchestraerrors.StoreError{Op: "transaction", Cause: fmt.Errorf("%w (rollback failed: %v)", err, rbErr)}
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &orchestraerrors.StoreError{Op: "transaction", Cause: err}
	}
	return nil
}

// prepare returns a cached prepared statement for sqlText, bound to db
// (not a transaction). The query methods in this file execute their SQL
// directly on db or tx and do not go through this cache.
func (s *Store) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	return s.stmts.get(ctx, sqlText)
}

// stmtCache is a bounded, FIFO-evicted prepared-statement cache keyed by
// SQL text. The Store contract requires the cache be bounded; FIFO keeps
// eviction O(1) without tracking per-statement usage recency.
type stmtCache struct {
	mu    sync.Mutex
	db    *sql.DB
	max   int
	stmts map[string]*sql.Stmt
	order []string
}

func newStmtCache(db *sql.DB, max int) *stmtCache {
	return &stmtCache{
		db:    db,
		max:   max,
		stmts: make(map[string]*sql.Stmt),
	}
}

func (c *stmtCache) get(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	c.mu.Lock()
	if stmt, ok := c.stmts[sqlText]; ok {
		c.mu.Unlock()
		return stmt, nil
	}
	c.mu.Unlock()

	stmt, err := c.db.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced us to prepare the same text.
	if existing, ok := c.stmts[sqlText]; ok {
		stmt.Close()
		return existing, nil
	}

	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		if old, ok := c.stmts[oldest]; ok {
			old.Close()
			delete(c.stmts, oldest)
		}
	}

	c.stmts[sqlText] = stmt
	c.order = append(c.order, sqlText)
	return stmt, nil
}

func (c *stmtCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stmt := range c.stmts {
		stmt.Close()
	}
	c.stmts = make(map[string]*sql.Stmt)
	c.order = nil
}

// migrate applies ordered schema versions, recording each in
// schema_migrations so repeated Opens are no-ops. No migration here is
// destructive; a destructive migration would need a separate, explicitly
// invoked path per the Store's contract.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: recording version: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}

	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking schema_migrations: %w", err)
	}
	return count > 0, nil
}

type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS executions (
				execution_id TEXT PRIMARY KEY,
				workflow_name TEXT NOT NULL,
				state TEXT NOT NULL,
				current_step_name TEXT,
				project_id TEXT,
				started_at TEXT,
				updated_at TEXT NOT NULL,
				completed_at TEXT,
				duration_ms INTEGER,
				timeout_ms INTEGER,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_state ON executions(state)`,
			`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_name)`,
			`CREATE TABLE IF NOT EXISTS steps (
				step_id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				step_name TEXT NOT NULL,
				agent_name TEXT NOT NULL,
				status TEXT NOT NULL,
				depends_on TEXT,
				started_at TEXT,
				completed_at TEXT,
				duration_ms INTEGER,
				output TEXT,
				token TEXT,
				UNIQUE (execution_id, step_name),
				FOREIGN KEY (execution_id) REFERENCES executions(execution_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_steps_execution ON steps(execution_id)`,
			`CREATE TABLE IF NOT EXISTS artifacts (
				artifact_id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				step_name TEXT NOT NULL,
				artifact_type TEXT NOT NULL,
				name TEXT NOT NULL,
				content BLOB,
				content_type TEXT,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				metadata TEXT,
				created_at TEXT NOT NULL,
				FOREIGN KEY (execution_id) REFERENCES executions(execution_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_artifacts_execution ON artifacts(execution_id)`,
			`CREATE TABLE IF NOT EXISTS findings (
				finding_id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				step_id TEXT,
				severity TEXT NOT NULL,
				category TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL,
				tags TEXT,
				is_global INTEGER NOT NULL DEFAULT 0,
				project_id TEXT,
				location TEXT,
				metadata TEXT,
				created_at TEXT NOT NULL,
				FOREIGN KEY (execution_id) REFERENCES executions(execution_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_execution ON findings(execution_id)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_project ON findings(project_id)`,
			`CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity)`,
			`CREATE VIRTUAL TABLE IF NOT EXISTS findings_fts USING fts5(
				title, description, tags, category,
				content='findings', content_rowid='rowid'
			)`,
			`CREATE TRIGGER IF NOT EXISTS findings_ai AFTER INSERT ON findings BEGIN
				INSERT INTO findings_fts(rowid, title, description, tags, category)
				VALUES (new.rowid, new.title, new.description, new.tags, new.category);
			END`,
			`CREATE TRIGGER IF NOT EXISTS findings_ad AFTER DELETE ON findings BEGIN
				INSERT INTO findings_fts(findings_fts, rowid, title, description, tags, category)
				VALUES ('delete', old.rowid, old.title, old.description, old.tags, old.category);
			END`,
			`CREATE TRIGGER IF NOT EXISTS findings_au AFTER UPDATE ON findings BEGIN
				INSERT INTO findings_fts(findings_fts, rowid, title, description, tags, category)
				VALUES ('delete', old.rowid, old.title, old.description, old.tags, old.category);
				INSERT INTO findings_fts(rowid, title, description, tags, category)
				VALUES (new.rowid, new.title, new.description, new.tags, new.category);
			END`,
			`CREATE TABLE IF NOT EXISTS execution_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				execution_id TEXT NOT NULL,
				layer TEXT NOT NULL,
				layer_id TEXT NOT NULL,
				log_level TEXT NOT NULL,
				message TEXT NOT NULL,
				context TEXT,
				contract_input TEXT,
				contract_output TEXT,
				timestamp TEXT NOT NULL,
				UNIQUE (execution_id, layer, layer_id),
				FOREIGN KEY (execution_id) REFERENCES executions(execution_id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_execution_logs_execution ON execution_logs(execution_id)`,
			`CREATE TABLE IF NOT EXISTS telemetry_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type TEXT NOT NULL,
				execution_id TEXT,
				step_id TEXT,
				agent_name TEXT,
				metadata TEXT,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_telemetry_execution ON telemetry_events(execution_id)`,
			`CREATE INDEX IF NOT EXISTS idx_telemetry_event_type ON telemetry_events(event_type)`,
			`CREATE TABLE IF NOT EXISTS project_associations (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				path TEXT NOT NULL UNIQUE,
				is_git_repo INTEGER NOT NULL DEFAULT 0,
				metadata TEXT,
				discovered_at TEXT NOT NULL,
				last_used_at TEXT
			)`,
		},
	},
}

// --- Execution ---

// CreateExecutionTx inserts a new Execution row. Must run inside a
// Transaction alongside the starting Step and its token.
func (s *Store) CreateExecutionTx(ctx context.Context, tx *sql.Tx, e *Execution) error {
	metadataJSON, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	e.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (execution_id, workflow_name, state, current_step_name, project_id,
			started_at, updated_at, completed_at, duration_ms, timeout_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ExecutionID, e.WorkflowName, e.State, nullStringPtr(e.CurrentStepName), nullStringPtr(e.ProjectID),
		nullTime(e.StartedAt), now.Format(time.RFC3339), nullTime(e.CompletedAt),
		nullInt64Ptr(e.DurationMs), nullInt64Ptr(e.TimeoutMs), metadataJSON,
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "create_execution", Cause: err}
	}
	return nil
}

// UpdateExecutionTx persists a mutated Execution. Used by the state
// machine for transitions and by the sequencer for current_step_name
// changes.
func (s *Store) UpdateExecutionTx(ctx context.Context, tx *sql.Tx, e *Execution) error {
	metadataJSON, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	e.UpdatedAt = now

	result, err := tx.ExecContext(ctx, `
		UPDATE executions SET
			workflow_name = ?, state = ?, current_step_name = ?, project_id = ?,
			started_at = ?, updated_at = ?, completed_at = ?, duration_ms = ?,
			timeout_ms = ?, metadata = ?
		WHERE execution_id = ?
	`,
		e.WorkflowName, e.State, nullStringPtr(e.CurrentStepName), nullStringPtr(e.ProjectID),
		nullTime(e.StartedAt), now.Format(time.RFC3339), nullTime(e.CompletedAt),
		nullInt64Ptr(e.DurationMs), nullInt64Ptr(e.TimeoutMs), metadataJSON,
		e.ExecutionID,
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "update_execution", Cause: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &orchestraerrors.NotFoundError{Resource: "execution", ID: e.ExecutionID}
	}
	return nil
}

const executionColumns = `execution_id, workflow_name, state, current_step_name, project_id,
	started_at, updated_at, completed_at, duration_ms, timeout_ms, metadata`

// GetExecution retrieves an Execution by id. Use GetExecutionTx to read
// inside an in-flight transaction.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	return s.getExecution(ctx, s.db, executionID)
}

// GetExecutionTx is GetExecution scoped to an in-flight transaction.
func (s *Store) GetExecutionTx(ctx context.Context, tx *sql.Tx, executionID string) (*Execution, error) {
	return s.getExecution(ctx, tx, executionID)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getExecution(ctx context.Context, q rowQuerier, executionID string) (*Execution, error) {
	row := q.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE execution_id = ?`, executionID)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, &orchestraerrors.NotFoundError{Resource: "execution", ID: executionID}
	}
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "get_execution", Cause: err}
	}
	return e, nil
}

func scanExecution(row *sql.Row) (*Execution, error) {
	var e Execution
	var currentStepName, projectID, startedAt, completedAt, metadataJSON sql.NullString
	var durationMs, timeoutMs sql.NullInt64
	var updatedAt string

	err := row.Scan(
		&e.ExecutionID, &e.WorkflowName, &e.State, &currentStepName, &projectID,
		&startedAt, &updatedAt, &completedAt, &durationMs, &timeoutMs, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if currentStepName.Valid {
		e.CurrentStepName = &currentStepName.String
	}
	if projectID.Valid {
		e.ProjectID = &projectID.String
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		e.CompletedAt = &t
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	if timeoutMs.Valid {
		e.TimeoutMs = &timeoutMs.Int64
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}

	return &e, nil
}

// ListRunningExecutionsWithTimeout returns Executions in state=running
// with a non-null timeout_ms, for the Lifecycle Manager's sweep.
func (s *Store) ListRunningExecutionsWithTimeout(ctx context.Context) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE state = ? AND timeout_ms IS NOT NULL`, ExecutionRunning)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "list_running_executions", Cause: err}
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, &orchestraerrors.StoreError{Op: "list_running_executions", Cause: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListExecutions returns executions, optionally filtered by state.
func (s *Store) ListExecutions(ctx context.Context, state string) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "list_executions", Cause: err}
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		e, err := scanExecutionRows(rows)
		if err != nil {
			return nil, &orchestraerrors.StoreError{Op: "list_executions", Cause: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExecutionRows(rows *sql.Rows) (*Execution, error) {
	var e Execution
	var currentStepName, projectID, startedAt, completedAt, metadataJSON sql.NullString
	var durationMs, timeoutMs sql.NullInt64
	var updatedAt string

	err := rows.Scan(
		&e.ExecutionID, &e.WorkflowName, &e.State, &currentStepName, &projectID,
		&startedAt, &updatedAt, &completedAt, &durationMs, &timeoutMs, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	if currentStepName.Valid {
		e.CurrentStepName = &currentStepName.String
	}
	if projectID.Valid {
		e.ProjectID = &projectID.String
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		e.CompletedAt = &t
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	if timeoutMs.Valid {
		e.TimeoutMs = &timeoutMs.Int64
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
	}

	return &e, nil
}

// --- Step ---

const stepColumns = `step_id, execution_id, step_name, agent_name, status, depends_on,
	started_at, completed_at, duration_ms, output, token`

// CreateStepTx inserts a new Step row.
func (s *Store) CreateStepTx(ctx context.Context, tx *sql.Tx, st *Step) error {
	dependsOnJSON, err := marshalJSON(st.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	outputJSON, err := marshalJSON(st.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO steps (step_id, execution_id, step_name, agent_name, status, depends_on,
			started_at, completed_at, duration_ms, output, token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		st.StepID, st.ExecutionID, st.StepName, st.AgentName, st.Status, dependsOnJSON,
		nullTime(st.StartedAt), nullTime(st.CompletedAt), nullInt64Ptr(st.DurationMs),
		outputJSON, nullStringPtr(st.Token),
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "create_step", Cause: err}
	}
	return nil
}

// UpdateStepTx persists a mutated Step.
func (s *Store) UpdateStepTx(ctx context.Context, tx *sql.Tx, st *Step) error {
	dependsOnJSON, err := marshalJSON(st.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	outputJSON, err := marshalJSON(st.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE steps SET
			agent_name = ?, status = ?, depends_on = ?, started_at = ?, completed_at = ?,
			duration_ms = ?, output = ?, token = ?
		WHERE step_id = ?
	`,
		st.AgentName, st.Status, dependsOnJSON, nullTime(st.StartedAt), nullTime(st.CompletedAt),
		nullInt64Ptr(st.DurationMs), outputJSON, nullStringPtr(st.Token),
		st.StepID,
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "update_step", Cause: err}
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return &orchestraerrors.NotFoundError{Resource: "step", ID: st.StepID}
	}
	return nil
}

// GetStepByName retrieves a Step by (execution_id, step_name).
func (s *Store) GetStepByName(ctx context.Context, executionID, stepName string) (*Step, error) {
	return s.getStepByName(ctx, s.db, executionID, stepName)
}

// GetStepByNameTx is GetStepByName scoped to an in-flight transaction.
func (s *Store) GetStepByNameTx(ctx context.Context, tx *sql.Tx, executionID, stepName string) (*Step, error) {
	return s.getStepByName(ctx, tx, executionID, stepName)
}

func (s *Store) getStepByName(ctx context.Context, q rowQuerier, executionID, stepName string) (*Step, error) {
	row := q.QueryRowContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE execution_id = ? AND step_name = ?`, executionID, stepName)
	st, err := scanStep(row)
	if err == sql.ErrNoRows {
		return nil, &orchestraerrors.NotFoundError{Resource: "step", ID: fmt.Sprintf("%s/%s", executionID, stepName)}
	}
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "get_step", Cause: err}
	}
	return st, nil
}

func scanStep(row *sql.Row) (*Step, error) {
	var st Step
	var dependsOnJSON, outputJSON, token, startedAt, completedAt sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(
		&st.StepID, &st.ExecutionID, &st.StepName, &st.AgentName, &st.Status, &dependsOnJSON,
		&startedAt, &completedAt, &durationMs, &outputJSON, &token,
	)
	if err != nil {
		return nil, err
	}
	hydrateStep(&st, dependsOnJSON, outputJSON, token, startedAt, completedAt, durationMs)
	return &st, nil
}

func hydrateStep(st *Step, dependsOnJSON, outputJSON, token, startedAt, completedAt sql.NullString, durationMs sql.NullInt64) {
	if dependsOnJSON.Valid && dependsOnJSON.String != "" {
		json.Unmarshal([]byte(dependsOnJSON.String), &st.DependsOn)
	}
	if outputJSON.Valid && outputJSON.String != "" && outputJSON.String != "null" {
		var out StepOutput
		if err := json.Unmarshal([]byte(outputJSON.String), &out); err == nil {
			st.Output = &out
		}
	}
	if token.Valid {
		st.Token = &token.String
	}
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		st.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		st.CompletedAt = &t
	}
	if durationMs.Valid {
		st.DurationMs = &durationMs.Int64
	}
}

// ListSteps returns every Step belonging to an Execution, ordered by
// creation (rowid), which matches declaration order for the sequential
// v1 path.
func (s *Store) ListSteps(ctx context.Context, executionID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM steps WHERE execution_id = ? ORDER BY rowid ASC`, executionID)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "list_steps", Cause: err}
	}
	defer rows.Close()

	var out []*Step
	for rows.Next() {
		var st Step
		var dependsOnJSON, outputJSON, token, startedAt, completedAt sql.NullString
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&st.StepID, &st.ExecutionID, &st.StepName, &st.AgentName, &st.Status, &dependsOnJSON,
			&startedAt, &completedAt, &durationMs, &outputJSON, &token,
		); err != nil {
			return nil, &orchestraerrors.StoreError{Op: "list_steps", Cause: err}
		}
		hydrateStep(&st, dependsOnJSON, outputJSON, token, startedAt, completedAt, durationMs)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// --- Artifact ---

// InsertArtifactTx writes an immutable Artifact row.
func (s *Store) InsertArtifactTx(ctx context.Context, tx *sql.Tx, a *Artifact) error {
	metadataJSON, err := marshalJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	a.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, execution_id, step_name, artifact_type, name,
			content, content_type, size_bytes, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ArtifactID, a.ExecutionID, a.StepName, a.ArtifactType, a.Name,
		a.Content, a.ContentType, a.SizeBytes, metadataJSON, a.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "insert_artifact", Cause: err}
	}
	return nil
}

const artifactColumns = `artifact_id, execution_id, step_name, artifact_type, name,
	content, content_type, size_bytes, metadata, created_at`

// GetArtifact retrieves an Artifact including its content.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id = ?`, artifactID)

	var a Artifact
	var metadataJSON sql.NullString
	var createdAt string

	err := row.Scan(
		&a.ArtifactID, &a.ExecutionID, &a.StepName, &a.ArtifactType, &a.Name,
		&a.Content, &a.ContentType, &a.SizeBytes, &metadataJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, &orchestraerrors.NotFoundError{Resource: "artifact", ID: artifactID}
	}
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "get_artifact", Cause: err}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &a.Metadata)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// ListArtifacts returns artifact summaries (content omitted) for an
// execution, optionally narrowed to one step.
func (s *Store) ListArtifacts(ctx context.Context, executionID, stepName string) ([]*Artifact, error) {
	query := `SELECT artifact_id, execution_id, step_name, artifact_type, name, content_type, size_bytes, metadata, created_at
		FROM artifacts WHERE execution_id = ?`
	args := []any{executionID}
	if stepName != "" {
		query += ` AND step_name = ?`
		args = append(args, stepName)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "list_artifacts", Cause: err}
	}
	defer rows.Close()

	var out []*Artifact
	for rows.Next() {
		var a Artifact
		var metadataJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ArtifactID, &a.ExecutionID, &a.StepName, &a.ArtifactType, &a.Name,
			&a.ContentType, &a.SizeBytes, &metadataJSON, &createdAt); err != nil {
			return nil, &orchestraerrors.StoreError{Op: "list_artifacts", Cause: err}
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &a.Metadata)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Finding ---

// InsertFindingTx writes a Finding row; the FTS index is updated
// transactionally by triggers defined on the findings table.
func (s *Store) InsertFindingTx(ctx context.Context, tx *sql.Tx, f *Finding) error {
	tagsJSON, err := marshalJSON(f.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metadataJSON, err := marshalJSON(f.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	f.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO findings (finding_id, execution_id, step_id, severity, category, title,
			description, tags, is_global, project_id, location, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.FindingID, f.ExecutionID, nullStringPtr(f.StepID), f.Severity, f.Category, f.Title,
		f.Description, tagsJSON, boolToInt(f.IsGlobal), nullStringPtr(f.ProjectID), f.Location,
		metadataJSON, f.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "insert_finding", Cause: err}
	}
	return nil
}

const findingColumns = `finding_id, execution_id, step_id, severity, category, title,
	description, tags, is_global, project_id, location, metadata, created_at`

// QueryFindings returns findings matching filter. When filter.Search is
// set, the FTS5 index is used against title/description/tags/category.
func (s *Store) QueryFindings(ctx context.Context, filter FindingFilter) ([]*Finding, error) {
	query := `SELECT ` + prefixColumns("f", findingColumns) + ` FROM findings f`
	var args []any

	if filter.Search != "" {
		query += ` JOIN findings_fts ON findings_fts.rowid = f.rowid`
	}
	query += ` WHERE 1=1`

	if filter.ExecutionID != "" {
		query += ` AND f.execution_id = ?`
		args = append(args, filter.ExecutionID)
	}
	if filter.ProjectID != "" {
		query += ` AND (f.project_id = ? OR f.is_global = 1)`
		args = append(args, filter.ProjectID)
	}
	if len(filter.Severities) > 0 {
		query += ` AND f.severity IN (` + placeholders(len(filter.Severities)) + `)`
		for _, sev := range filter.Severities {
			args = append(args, sev)
		}
	}
	if filter.Category != "" {
		query += ` AND f.category = ?`
		args = append(args, filter.Category)
	}
	if filter.Search != "" {
		query += ` AND findings_fts MATCH ?`
		args = append(args, filter.Search)
	}

	query += ` ORDER BY f.created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "query_findings", Cause: err}
	}
	defer rows.Close()

	var out []*Finding
	for rows.Next() {
		f, err := scanFindingRows(rows)
		if err != nil {
			return nil, &orchestraerrors.StoreError{Op: "query_findings", Cause: err}
		}
		if len(filter.Tags) > 0 && !hasAnyTag(f.Tags, filter.Tags) {
			continue
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func scanFindingRows(rows *sql.Rows) (*Finding, error) {
	var f Finding
	var stepID, projectID, tagsJSON, metadataJSON sql.NullString
	var isGlobal int
	var createdAt string

	err := rows.Scan(
		&f.FindingID, &f.ExecutionID, &stepID, &f.Severity, &f.Category, &f.Title,
		&f.Description, &tagsJSON, &isGlobal, &projectID, &f.Location, &metadataJSON, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if stepID.Valid {
		f.StepID = &stepID.String
	}
	if projectID.Valid {
		f.ProjectID = &projectID.String
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		json.Unmarshal([]byte(tagsJSON.String), &f.Tags)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &f.Metadata)
	}
	f.IsGlobal = isGlobal == 1
	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &f, nil
}

// CountFindingsBySeverity aggregates finding counts by severity for an
// execution, used by the escalation threshold check.
func (s *Store) CountFindingsBySeverity(ctx context.Context, executionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT severity, COUNT(1) FROM findings WHERE execution_id = ? GROUP BY severity`, executionID)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "count_findings_by_severity", Cause: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, &orchestraerrors.StoreError{Op: "count_findings_by_severity", Cause: err}
		}
		counts[severity] = count
	}
	return counts, rows.Err()
}

// --- Execution Log ---

// InsertExecutionLogTx inserts an ExecutionLogEntry, returning the
// existing row unchanged if (execution_id, layer, layer_id) already
// exists. This is the Execution Logger's idempotency contract.
func (s *Store) InsertExecutionLogTx(ctx context.Context, tx *sql.Tx, entry *ExecutionLogEntry) (*ExecutionLogEntry, error) {
	existing, err := s.getExecutionLogTx(ctx, tx, entry.ExecutionID, entry.Layer, entry.LayerID)
	if err == nil {
		return existing, nil
	}
	if _, ok := err.(*orchestraerrors.NotFoundError); !ok {
		return nil, err
	}

	contextJSON, err := marshalJSON(entry.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	contractInputJSON, err := marshalJSON(entry.ContractInput)
	if err != nil {
		return nil, fmt.Errorf("marshal contract_input: %w", err)
	}
	contractOutputJSON, err := marshalJSON(entry.ContractOutput)
	if err != nil {
		return nil, fmt.Errorf("marshal contract_output: %w", err)
	}

	entry.Timestamp = time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, layer, layer_id, log_level, message,
			context, contract_input, contract_output, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, layer, layer_id) DO NOTHING
	`,
		entry.ExecutionID, entry.Layer, entry.LayerID, entry.LogLevel, entry.Message,
		contextJSON, contractInputJSON, contractOutputJSON, entry.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "insert_execution_log", Cause: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "insert_execution_log", Cause: err}
	}
	if id == 0 {
		// A concurrent insert won the race; fetch what landed.
		return s.getExecutionLogTx(ctx, tx, entry.ExecutionID, entry.Layer, entry.LayerID)
	}
	entry.ID = id
	return entry, nil
}

const executionLogColumns = `id, execution_id, layer, layer_id, log_level, message,
	context, contract_input, contract_output, timestamp`

func (s *Store) getExecutionLogTx(ctx context.Context, tx *sql.Tx, executionID, layer, layerID string) (*ExecutionLogEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+executionLogColumns+` FROM execution_logs WHERE execution_id = ? AND layer = ? AND layer_id = ?`,
		executionID, layer, layerID)
	entry, err := scanExecutionLog(row)
	if err == sql.ErrNoRows {
		return nil, &orchestraerrors.NotFoundError{Resource: "execution_log", ID: fmt.Sprintf("%s/%s/%s", executionID, layer, layerID)}
	}
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "get_execution_log", Cause: err}
	}
	return entry, nil
}

func scanExecutionLog(row *sql.Row) (*ExecutionLogEntry, error) {
	var e ExecutionLogEntry
	var contextJSON, contractInputJSON, contractOutputJSON sql.NullString
	var timestamp string

	err := row.Scan(&e.ID, &e.ExecutionID, &e.Layer, &e.LayerID, &e.LogLevel, &e.Message,
		&contextJSON, &contractInputJSON, &contractOutputJSON, &timestamp)
	if err != nil {
		return nil, err
	}
	if contextJSON.Valid && contextJSON.String != "" {
		json.Unmarshal([]byte(contextJSON.String), &e.Context)
	}
	if contractInputJSON.Valid && contractInputJSON.String != "" {
		json.Unmarshal([]byte(contractInputJSON.String), &e.ContractInput)
	}
	if contractOutputJSON.Valid && contractOutputJSON.String != "" {
		json.Unmarshal([]byte(contractOutputJSON.String), &e.ContractOutput)
	}
	e.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
	return &e, nil
}

// ListExecutionLogs returns log entries for an execution, optionally
// filtered by layer/level.
func (s *Store) ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]*ExecutionLogEntry, error) {
	query := `SELECT ` + executionLogColumns + ` FROM execution_logs WHERE execution_id = ?`
	args := []any{filter.ExecutionID}

	if filter.Layer != "" {
		query += ` AND layer = ?`
		args = append(args, filter.Layer)
	}
	if filter.LogLevel != "" {
		query += ` AND log_level = ?`
		args = append(args, filter.LogLevel)
	}
	query += ` ORDER BY timestamp DESC`

	limit := clampLimit(filter.Limit)
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "list_execution_logs", Cause: err}
	}
	defer rows.Close()

	var out []*ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		var contextJSON, contractInputJSON, contractOutputJSON sql.NullString
		var timestamp string
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Layer, &e.LayerID, &e.LogLevel, &e.Message,
			&contextJSON, &contractInputJSON, &contractOutputJSON, &timestamp); err != nil {
			return nil, &orchestraerrors.StoreError{Op: "list_execution_logs", Cause: err}
		}
		if contextJSON.Valid && contextJSON.String != "" {
			json.Unmarshal([]byte(contextJSON.String), &e.Context)
		}
		if contractInputJSON.Valid && contractInputJSON.String != "" {
			json.Unmarshal([]byte(contractInputJSON.String), &e.ContractInput)
		}
		if contractOutputJSON.Valid && contractOutputJSON.String != "" {
			json.Unmarshal([]byte(contractOutputJSON.String), &e.ContractOutput)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, timestamp)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Telemetry ---

// InsertTelemetryEvent appends a TelemetryEvent outside of any primary
// transaction: telemetry is best-effort and must never fail the caller's
// operation.
func (s *Store) InsertTelemetryEvent(ctx context.Context, e *TelemetryEvent) error {
	metadataJSON, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	e.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry_events (event_type, execution_id, step_id, agent_name, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.EventType, nullStringPtr(e.ExecutionID), nullStringPtr(e.StepID), nullStringPtr(e.AgentName),
		metadataJSON, e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "insert_telemetry_event", Cause: err}
	}
	return nil
}

// ListTelemetry returns telemetry events newest first.
func (s *Store) ListTelemetry(ctx context.Context, filter TelemetryFilter) ([]*TelemetryEvent, error) {
	query := `SELECT id, event_type, execution_id, step_id, agent_name, metadata, created_at FROM telemetry_events WHERE 1=1`
	var args []any

	if filter.ExecutionID != "" {
		query += ` AND execution_id = ?`
		args = append(args, filter.ExecutionID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, filter.EventType)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := clampLimit(filter.Limit)
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "list_telemetry", Cause: err}
	}
	defer rows.Close()

	var out []*TelemetryEvent
	for rows.Next() {
		var e TelemetryEvent
		var executionID, stepID, agentName, metadataJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.EventType, &executionID, &stepID, &agentName, &metadataJSON, &createdAt); err != nil {
			return nil, &orchestraerrors.StoreError{Op: "list_telemetry", Cause: err}
		}
		if executionID.Valid {
			e.ExecutionID = &executionID.String
		}
		if stepID.Valid {
			e.StepID = &stepID.String
		}
		if agentName.Valid {
			e.AgentName = &agentName.String
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &e.Metadata)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// clampLimit enforces the [1, 1000] bound spec.md requires for
// telemetry-style list operations, defaulting non-positive/unset values
// to 100.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// --- Project Association ---

// UpsertProjectAssociationTx creates or refreshes a ProjectAssociation by
// path.
func (s *Store) UpsertProjectAssociationTx(ctx context.Context, tx *sql.Tx, p *ProjectAssociation) error {
	metadataJSON, err := marshalJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO project_associations (id, name, path, is_git_repo, metadata, discovered_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			last_used_at = excluded.last_used_at,
			is_git_repo = excluded.is_git_repo
	`,
		p.ID, p.Name, p.Path, boolToInt(p.IsGitRepo), metadataJSON,
		p.DiscoveredAt.Format(time.RFC3339), nullTime(p.LastUsedAt),
	)
	if err != nil {
		return &orchestraerrors.StoreError{Op: "upsert_project_association", Cause: err}
	}
	return nil
}

// GetProjectAssociationByPath retrieves a ProjectAssociation by path.
func (s *Store) GetProjectAssociationByPath(ctx context.Context, path string) (*ProjectAssociation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, path, is_git_repo, metadata, discovered_at, last_used_at
		FROM project_associations WHERE path = ?
	`, path)

	var p ProjectAssociation
	var metadataJSON, lastUsedAt sql.NullString
	var isGitRepo int
	var discoveredAt string

	err := row.Scan(&p.ID, &p.Name, &p.Path, &isGitRepo, &metadataJSON, &discoveredAt, &lastUsedAt)
	if err == sql.ErrNoRows {
		return nil, &orchestraerrors.NotFoundError{Resource: "project", ID: path}
	}
	if err != nil {
		return nil, &orchestraerrors.StoreError{Op: "get_project_association", Cause: err}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &p.Metadata)
	}
	p.IsGitRepo = isGitRepo == 1
	p.DiscoveredAt, _ = time.Parse(time.RFC3339, discoveredAt)
	if lastUsedAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsedAt.String)
		p.LastUsedAt = &t
	}
	return &p, nil
}

// --- helpers ---

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case *StepOutput:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStringPtr(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullInt64Ptr(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	qs := make([]string, n)
	for i := range qs {
		qs[i] = "?"
	}
	return strings.Join(qs, ",")
}

// prefixColumns takes columns, a comma-separated list with no table
// qualification, and prefixes each entry with alias for use in joined
// queries.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	out := make([]string, 0, len(parts))
	for _, col := range parts {
		col = strings.TrimSpace(col)
		if col != "" {
			out = append(out, alias+"."+col)
		}
	}
	return strings.Join(out, ", ")
}
