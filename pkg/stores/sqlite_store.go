package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun persists a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (id, status, target, continue_on_error, dry_run, started_at, completed_at, report, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Status, run.Target, run.ContinueOnError, run.DryRun,
		run.StartedAt, run.CompletedAt, run.Report, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, status, target, continue_on_error, dry_run, started_at, completed_at, report, created_at, updated_at
		FROM runs WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Status, &run.Target, &run.ContinueOnError, &run.DryRun,
		&run.StartedAt, &run.CompletedAt, &run.Report, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun updates the status and final report of a run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, id string, status string, report *string) error {
	now := time.Now()
	query := `
		UPDATE runs SET status = ?, report = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, report, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns lists runs ordered by start time, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, status, target, continue_on_error, dry_run, started_at, completed_at, report, created_at, updated_at
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(
			&run.ID, &run.Status, &run.Target, &run.ContinueOnError, &run.DryRun,
			&run.StartedAt, &run.CompletedAt, &run.Report, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateActionRecord persists a per-action outcome.
func (s *SQLiteStore) CreateActionRecord(ctx context.Context, rec *ActionRecord) error {
	query := `
		INSERT INTO actions (id, run_id, ref, verb, status, reason, error, diff, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.RunID, rec.Ref, rec.Verb, rec.Status,
		rec.Reason, rec.Error, rec.Diff, rec.StartedAt, rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to create action record: %w", err)
	}
	return nil
}

// ListActionsByRun lists the action records of a run in insertion order.
func (s *SQLiteStore) ListActionsByRun(ctx context.Context, runID string) ([]*ActionRecord, error) {
	query := `
		SELECT id, run_id, ref, verb, status, reason, error, diff, started_at, duration_ms
		FROM actions WHERE run_id = ? ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var records []*ActionRecord
	for rows.Next() {
		rec := &ActionRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Ref, &rec.Verb, &rec.Status,
			&rec.Reason, &rec.Error, &rec.Diff, &rec.StartedAt, &rec.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateHandlerRecord persists a per-handler outcome.
func (s *SQLiteStore) CreateHandlerRecord(ctx context.Context, rec *HandlerRecord) error {
	query := `
		INSERT INTO handler_firings (run_id, handler_id, ref, status, trigger_count, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.RunID, rec.HandlerID, rec.Ref, rec.Status,
		rec.TriggerCount, rec.Error, rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to create handler record: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// ListHandlersByRun lists the handler records of a run in firing order.
func (s *SQLiteStore) ListHandlersByRun(ctx context.Context, runID string) ([]*HandlerRecord, error) {
	query := `
		SELECT id, run_id, handler_id, ref, status, trigger_count, error, duration_ms
		FROM handler_firings WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handler records: %w", err)
	}
	defer rows.Close()

	var records []*HandlerRecord
	for rows.Next() {
		rec := &HandlerRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.HandlerID, &rec.Ref, &rec.Status,
			&rec.TriggerCount, &rec.Error, &rec.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan handler record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertFact inserts or updates a fact keyed by target and ref.
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact *Fact) error {
	query := `
		INSERT INTO facts (id, target_id, ref, value, exists_flag, ttl, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (target_id, ref) DO UPDATE SET
			value = excluded.value,
			exists_flag = excluded.exists_flag,
			ttl = excluded.ttl,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		fact.ID, fact.TargetID, fact.Ref, fact.Value, fact.Exists,
		fact.TTL, fact.ExpiresAt, fact.CreatedAt, fact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact: %w", err)
	}
	return nil
}

// GetFact retrieves a fact by target and ref.
func (s *SQLiteStore) GetFact(ctx context.Context, targetID, ref string) (*Fact, error) {
	query := `
		SELECT id, target_id, ref, value, exists_flag, ttl, expires_at, created_at, updated_at
		FROM facts WHERE target_id = ? AND ref = ?
	`

	fact := &Fact{}
	err := s.db.QueryRowContext(ctx, query, targetID, ref).Scan(
		&fact.ID, &fact.TargetID, &fact.Ref, &fact.Value, &fact.Exists,
		&fact.TTL, &fact.ExpiresAt, &fact.CreatedAt, &fact.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fact not found: %s/%s", targetID, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fact: %w", err)
	}
	return fact, nil
}

// ListFacts lists facts, optionally filtered by target.
func (s *SQLiteStore) ListFacts(ctx context.Context, targetID *string, limit, offset int) ([]*Fact, error) {
	query := `
		SELECT id, target_id, ref, value, exists_flag, ttl, expires_at, created_at, updated_at
		FROM facts
	`
	args := []any{}
	if targetID != nil {
		query += " WHERE target_id = ?"
		args = append(args, *targetID)
	}
	query += " ORDER BY target_id, ref LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		fact := &Fact{}
		if err := rows.Scan(
			&fact.ID, &fact.TargetID, &fact.Ref, &fact.Value, &fact.Exists,
			&fact.TTL, &fact.ExpiresAt, &fact.CreatedAt, &fact.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// DeleteExpiredFacts removes facts past their TTL.
func (s *SQLiteStore) DeleteExpiredFacts(ctx context.Context) (int64, error) {
	query := `DELETE FROM facts WHERE expires_at IS NOT NULL AND expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired facts: %w", err)
	}
	return result.RowsAffected()
}

// UpsertResourceState inserts or updates the last applied state of a resource.
func (s *SQLiteStore) UpsertResourceState(ctx context.Context, state *ResourceState) error {
	query := `
		INSERT INTO resource_states (ref, state, hash, last_run_id, last_applied, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ref) DO UPDATE SET
			state = excluded.state,
			hash = excluded.hash,
			last_run_id = excluded.last_run_id,
			last_applied = excluded.last_applied,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		state.Ref, state.State, state.Hash, state.LastRunID,
		state.LastApplied, state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource state: %w", err)
	}
	return nil
}

// GetResourceState retrieves the last applied state of a resource.
func (s *SQLiteStore) GetResourceState(ctx context.Context, ref string) (*ResourceState, error) {
	query := `
		SELECT ref, state, hash, last_run_id, last_applied, created_at, updated_at
		FROM resource_states WHERE ref = ?
	`

	state := &ResourceState{}
	err := s.db.QueryRowContext(ctx, query, ref).Scan(
		&state.Ref, &state.State, &state.Hash, &state.LastRunID,
		&state.LastApplied, &state.CreatedAt, &state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource state not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource state: %w", err)
	}
	return state, nil
}

// ListResourceStates lists all stored resource states.
func (s *SQLiteStore) ListResourceStates(ctx context.Context, limit, offset int) ([]*ResourceState, error) {
	query := `
		SELECT ref, state, hash, last_run_id, last_applied, created_at, updated_at
		FROM resource_states ORDER BY ref LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource states: %w", err)
	}
	defer rows.Close()

	var states []*ResourceState
	for rows.Next() {
		state := &ResourceState{}
		if err := rows.Scan(
			&state.Ref, &state.State, &state.Hash, &state.LastRunID,
			&state.LastApplied, &state.CreatedAt, &state.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// DeleteResourceState removes the stored state of a resource.
func (s *SQLiteStore) DeleteResourceState(ctx context.Context, ref string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resource_states WHERE ref = ?`, ref)
	if err != nil {
		return fmt.Errorf("failed to delete resource state: %w", err)
	}
	return nil
}

// AppendEvent appends an event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (run_id, ref, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID, event.Ref, event.Level, event.Message, event.Details, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// ListEvents lists events, optionally filtered by run.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, run_id, ref, level, message, details, timestamp
		FROM events
	`
	args := []any{}
	if runID != nil {
		query += " WHERE run_id = ?"
		args = append(args, *runID)
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		if err := rows.Scan(
			&event.ID, &event.RunID, &event.Ref, &event.Level,
			&event.Message, &event.Details, &event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
