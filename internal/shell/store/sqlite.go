package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed-width UTC timestamps so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Journal = (*SQLiteStore)(nil)

// NewSQLiteStore opens the journal at dsn and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	// One connection: ":memory:" databases are per-connection, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(executor) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError(op, "", "", "failed to begin transaction", ErrTxFailed)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError(op, "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError(op, "", "", "failed to commit transaction", ErrTxFailed)
	}
	return nil
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID         string  `db:"id"`
	Project    string  `db:"project"`
	Command    string  `db:"command"`
	Services   string  `db:"services"`
	Status     string  `db:"status"`
	Error      string  `db:"error"`
	StartedAt  string  `db:"started_at"`
	FinishedAt *string `db:"finished_at"`
}

func (s *SQLiteStore) BeginRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return NewStoreError("BeginRun", "run", "", "run ID is required", ErrInvalidData)
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	services := run.Services
	if services == nil {
		services = []string{}
	}
	servicesJSON, err := json.Marshal(services)
	if err != nil {
		return NewStoreError("BeginRun", "run", run.ID, "failed to serialize services", ErrInvalidData)
	}

	query := `
		INSERT INTO runs (id, project, command, services, status, error, started_at)
		VALUES (:id, :project, :command, :services, :status, :error, :started_at)`

	row := map[string]any{
		"id":         run.ID,
		"project":    run.Project,
		"command":    run.Command,
		"services":   string(servicesJSON),
		"status":     string(run.Status),
		"error":      run.Error,
		"started_at": formatTime(run.StartedAt),
	}

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("BeginRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("BeginRun", "run", run.ID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, message string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), message, formatTime(at), id)
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("FinishRun", "run", id, err.Error(), err)
	}
	if rows == 0 {
		return NewStoreError("FinishRun", "run", id, "run not found", ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}
	return rowToRun(&row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	filter = filter.Normalize()

	query := `SELECT * FROM runs`
	var args []any
	if filter.Project != "" {
		query += ` WHERE project = ?`
		args = append(args, filter.Project)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	runs := make([]Run, 0, len(rows))
	for i := range rows {
		run, err := rowToRun(&rows[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *SQLiteStore) PruneRuns(ctx context.Context, project string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	var deleted int64
	err := s.withTx(ctx, "PruneRuns", func(exec executor) error {
		stale := `
			SELECT id FROM runs WHERE project = ?
			ORDER BY started_at DESC, rowid DESC LIMIT -1 OFFSET ?`

		if _, err := exec.ExecContext(ctx,
			`DELETE FROM run_events WHERE run_id IN (`+stale+`)`, project, keep); err != nil {
			return NewStoreError("PruneRuns", "event", "", err.Error(), err)
		}

		result, err := exec.ExecContext(ctx,
			`DELETE FROM runs WHERE id IN (`+stale+`)`, project, keep)
		if err != nil {
			return NewStoreError("PruneRuns", "run", "", err.Error(), err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return int(deleted), err
}

// =============================================================================
// Event Operations
// =============================================================================

// eventRow represents a run_events row in the database.
type eventRow struct {
	ID         int64  `db:"id"`
	RunID      string `db:"run_id"`
	Verb       string `db:"verb"`
	Service    string `db:"service"`
	Instance   string `db:"instance"`
	Status     string `db:"status"`
	Message    string `db:"message"`
	DurationMs int64  `db:"duration_ms"`
	At         string `db:"at"`
}

func (s *SQLiteStore) RecordEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return s.withTx(ctx, "RecordEvents", func(exec executor) error {
		for i := range events {
			if err := insertEvent(ctx, exec, &events[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertEvent(ctx context.Context, exec executor, event *Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	query := `
		INSERT INTO run_events (run_id, verb, service, instance, status, message, duration_ms, at)
		VALUES (:run_id, :verb, :service, :instance, :status, :message, :duration_ms, :at)`

	row := map[string]any{
		"run_id":      event.RunID,
		"verb":        event.Verb,
		"service":     event.Service,
		"instance":    event.Instance,
		"status":      event.Status,
		"message":     event.Message,
		"duration_ms": event.Duration.Milliseconds(),
		"at":          formatTime(event.At),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("RecordEvents", "event", event.RunID, "run does not exist", ErrForeignKey)
		}
		return NewStoreError("RecordEvents", "event", event.RunID, err.Error(), err)
	}
	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM run_events WHERE run_id = ? ORDER BY at ASC, id ASC`, runID)
	if err != nil {
		return nil, NewStoreError("ListEvents", "event", runID, err.Error(), err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		at, err := parseTime(row.At)
		if err != nil {
			return nil, NewStoreError("ListEvents", "event", runID, "failed to parse time", ErrInvalidData)
		}
		events = append(events, Event{
			ID:       row.ID,
			RunID:    row.RunID,
			Verb:     row.Verb,
			Service:  row.Service,
			Instance: row.Instance,
			Status:   row.Status,
			Message:  row.Message,
			Duration: time.Duration(row.DurationMs) * time.Millisecond,
			At:       at,
		})
	}
	return events, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func rowToRun(row *runRow) (*Run, error) {
	run := &Run{
		ID:      row.ID,
		Project: row.Project,
		Command: row.Command,
		Status:  RunStatus(row.Status),
		Error:   row.Error,
	}

	if err := json.Unmarshal([]byte(row.Services), &run.Services); err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "failed to parse services", ErrInvalidData)
	}

	started, err := parseTime(row.StartedAt)
	if err != nil {
		return nil, NewStoreError("rowToRun", "run", row.ID, "failed to parse started_at", ErrInvalidData)
	}
	run.StartedAt = started

	if row.FinishedAt != nil {
		finished, err := parseTime(*row.FinishedAt)
		if err != nil {
			return nil, NewStoreError("rowToRun", "run", row.ID, "failed to parse finished_at", ErrInvalidData)
		}
		run.FinishedAt = &finished
	}
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
