package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/strikepipe/strikepipe/internal/model"
)

// ErrDuplicateRun is returned when inserting a run whose identifier already
// exists.
var ErrDuplicateRun = errors.New("run already exists")

// RunDB provides SQLite-based storage for pipeline runs and their durable
// event logs. It manages connection pooling and provides methods for CRUD
// operations.
//
// Design decision: We use a single database file for all runs rather than a
// file per run. This keeps listing and history queries cheap and makes
// backup/restore a single-file operation.
type RunDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures RunDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a RunDB at the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*RunDB, error) {
	dbPath := filepath.Join(dbDir, "strikepipe.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite uses URI-style modes: rw prevents creating new
	// files, rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; a single pooled connection avoids
	// SQLITE_BUSY churn under concurrent lane completions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RunDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return rdb, nil
}

// Close closes the database connection.
func (rdb *RunDB) Close() error {
	return rdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (rdb *RunDB) createTables() error {
	schema := `
	-- Runs store one row per pipeline submission
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		secondary_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		task_queue TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL,
		close_time TEXT,
		input_json TEXT NOT NULL,
		state_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_start ON runs(start_time);

	-- Run events are the append-only durability log of agent completions
	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		metrics_json TEXT NOT NULL,
		evidence TEXT NOT NULL DEFAULT '',
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON run_events(run_id);
	`

	_, err := rdb.db.ExecContext(context.Background(), schema)
	return err
}

// RunRecord represents a stored pipeline run.
type RunRecord struct {
	// RunID is the unique run identifier.
	RunID string

	// SecondaryID is the caller-supplied correlation identifier (scan ID).
	SecondaryID string

	// Status is the externally visible lifecycle status.
	Status model.WorkflowStatus

	// TaskQueue names the queue the run was submitted on.
	TaskQueue string

	// StartTime is when the run was accepted.
	StartTime time.Time

	// CloseTime is when the run reached a terminal status, nil while open.
	CloseTime *time.Time

	// Input is the submission the run was started with.
	Input model.PipelineInput

	// State is the latest persisted state snapshot.
	State model.PipelineState
}

// InsertRun stores a newly accepted run. Returns ErrDuplicateRun when the
// run identifier is already present.
func (rdb *RunDB) InsertRun(ctx context.Context, record *RunRecord) error {
	inputJSON, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to serialize input: %w", err)
	}
	stateJSON, err := json.Marshal(record.State)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	query := `
	INSERT INTO runs (run_id, secondary_id, status, task_queue, start_time, close_time, input_json, state_json)
	VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
	`

	_, err = rdb.db.ExecContext(ctx, query,
		record.RunID,
		record.SecondaryID,
		string(record.Status),
		record.TaskQueue,
		record.StartTime.UTC().Format(time.RFC3339Nano),
		string(inputJSON),
		string(stateJSON),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, record.RunID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// UpdateRun persists the run's current status and state snapshot. A non-nil
// closeTime marks the run as closed.
func (rdb *RunDB) UpdateRun(ctx context.Context, runID string, status model.WorkflowStatus, closeTime *time.Time, state model.PipelineState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	var closed sql.NullString
	if closeTime != nil {
		closed = sql.NullString{String: closeTime.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	query := `
	UPDATE runs SET status = ?, close_time = ?, state_json = ?
	WHERE run_id = ?
	`

	result, err := rdb.db.ExecContext(ctx, query, string(status), closed, string(stateJSON), runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun retrieves a run by identifier. Returns nil when the run does not
// exist.
func (rdb *RunDB) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
	SELECT run_id, secondary_id, status, task_queue, start_time, close_time, input_json, state_json
	FROM runs
	WHERE run_id = ?
	`

	record, err := scanRun(rdb.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return record, nil
}

// ListRuns returns stored runs newest-first. An empty statusFilter matches
// every status; limit bounds the result size (values below 1 default to 10).
func (rdb *RunDB) ListRuns(ctx context.Context, statusFilter model.WorkflowStatus, limit int) ([]RunRecord, error) {
	if limit < 1 {
		limit = 10
	}

	query := `
	SELECT run_id, secondary_id, status, task_queue, start_time, close_time, input_json, state_json
	FROM runs
	`
	args := make([]any, 0, 2)
	if statusFilter != "" {
		query += " WHERE status = ?"
		args = append(args, string(statusFilter))
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := rdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		results = append(results, *record)
	}
	return results, rows.Err()
}

// CountRunning returns the number of runs whose status is still Running.
func (rdb *RunDB) CountRunning(ctx context.Context) (int, error) {
	var count int
	err := rdb.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE status = ?`, string(model.WorkflowRunning),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count running runs: %w", err)
	}
	return count, nil
}

// RunEvent is one recorded agent completion.
type RunEvent struct {
	// ID is the monotonically increasing event identifier.
	ID int64

	// RunID is the run the event belongs to.
	RunID string

	// AgentName is the completed agent.
	AgentName string

	// Metrics are the recorded agent metrics.
	Metrics model.AgentMetrics

	// Evidence is the recorded evidence text, possibly empty.
	Evidence string

	// Timestamp is when the event was recorded.
	Timestamp time.Time
}

// InsertRunEvent appends one agent-completion event to the durability log.
func (rdb *RunDB) InsertRunEvent(ctx context.Context, runID, agentName string, metrics model.AgentMetrics, evidence string) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to serialize metrics: %w", err)
	}

	query := `
	INSERT INTO run_events (run_id, agent_name, metrics_json, evidence)
	VALUES (?, ?, ?, ?)
	`

	if _, err := rdb.db.ExecContext(ctx, query, runID, agentName, string(metricsJSON), evidence); err != nil {
		return fmt.Errorf("failed to insert run event: %w", err)
	}
	return nil
}

// AgentCompleted implements the orchestrator's event recorder contract.
func (rdb *RunDB) AgentCompleted(runID, agentName string, metrics model.AgentMetrics, evidence string) error {
	return rdb.InsertRunEvent(context.Background(), runID, agentName, metrics, evidence)
}

// ListRunEvents returns the run's events in append order, for replay.
func (rdb *RunDB) ListRunEvents(ctx context.Context, runID string) ([]RunEvent, error) {
	query := `
	SELECT id, run_id, agent_name, metrics_json, evidence, timestamp
	FROM run_events
	WHERE run_id = ?
	ORDER BY id ASC
	`

	rows, err := rdb.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var event RunEvent
		var metricsJSON, timestamp string

		if err := rows.Scan(&event.ID, &event.RunID, &event.AgentName, &metricsJSON, &event.Evidence, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		if err := json.Unmarshal([]byte(metricsJSON), &event.Metrics); err != nil {
			return nil, fmt.Errorf("failed to parse metrics: %w", err)
		}
		event.Timestamp = parseTimestamp(timestamp)
		events = append(events, event)
	}
	return events, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun decodes one runs row.
func scanRun(row rowScanner) (*RunRecord, error) {
	var record RunRecord
	var status, startTime, inputJSON, stateJSON string
	var closeTime sql.NullString

	if err := row.Scan(
		&record.RunID,
		&record.SecondaryID,
		&status,
		&record.TaskQueue,
		&startTime,
		&closeTime,
		&inputJSON,
		&stateJSON,
	); err != nil {
		return nil, err
	}

	record.Status = model.WorkflowStatus(status)
	record.StartTime = parseTimestamp(startTime)
	if closeTime.Valid && closeTime.String != "" {
		t := parseTimestamp(closeTime.String)
		record.CloseTime = &t
	}
	if err := json.Unmarshal([]byte(inputJSON), &record.Input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &record.State); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	return &record, nil
}

// isUniqueViolation reports whether the error is a SQLite unique-constraint
// failure. modernc.org/sqlite does not export a typed error for this, so we
// match on the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,          // our own stored format
	time.RFC3339,              // without sub-second precision
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// SQLite may return timestamps in different formats depending on
// configuration. If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
