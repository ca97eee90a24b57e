package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketpulse/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteRunStore)(nil)

// SQLiteRunStore implements RunStore backed by a SQLite database.
type SQLiteRunStore struct {
	db *sql.DB
	mu sync.Mutex
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		trigger     TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		updated     INTEGER NOT NULL DEFAULT 0,
		unchanged   INTEGER NOT NULL DEFAULT 0,
		skipped     INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE TABLE IF NOT EXISTS symbol_results (
		run_id   TEXT NOT NULL REFERENCES runs(id),
		symbol   TEXT NOT NULL,
		class    TEXT NOT NULL,
		outcome  TEXT NOT NULL,
		new_bars INTEGER NOT NULL DEFAULT 0,
		error    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, symbol)
	)`,
}

// NewSQLiteRunStore opens (or creates) a SQLite database at dbPath and
// applies the schema.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating: %w", err)
		}
	}
	return &SQLiteRunStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

// BeginRun inserts a new run row.
func (s *SQLiteRunStore) BeginRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, trigger, started_at, status) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Trigger), run.StartedAt.UnixMilli(), run.Status)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// RecordSymbol stores one symbol's outcome for a run.
func (s *SQLiteRunStore) RecordSymbol(ctx context.Context, runID string, res domain.SymbolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO symbol_results (run_id, symbol, class, outcome, new_bars, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, res.Symbol, string(res.Class), string(res.Outcome), res.NewBars, res.Error)
	if err != nil {
		return fmt.Errorf("recording %s for run %s: %w", res.Symbol, runID, err)
	}
	return nil
}

// FinishRun updates the run row with its final counters and status.
func (s *SQLiteRunStore) FinishRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, updated = ?, unchanged = ?, skipped = ?, failed = ?, error = ?
		 WHERE id = ?`,
		run.FinishedAt.UnixMilli(), run.Status, run.Updated, run.Unchanged, run.Skipped, run.Failed, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trigger, started_at, finished_at, status, updated, unchanged, skipped, failed, error
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var (
			r                 domain.Run
			trigger           string
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &trigger, &started, &finished, &r.Status,
			&r.Updated, &r.Unchanged, &r.Skipped, &r.Failed, &r.Error); err != nil {
			return nil, err
		}
		r.Trigger = domain.RunTrigger(trigger)
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunResults returns the per-symbol outcomes of a run ordered by symbol.
func (s *SQLiteRunStore) RunResults(ctx context.Context, runID string) ([]domain.SymbolResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, class, outcome, new_bars, error FROM symbol_results WHERE run_id = ? ORDER BY symbol`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var results []domain.SymbolResult
	for rows.Next() {
		var (
			r              domain.SymbolResult
			class, outcome string
		)
		if err := rows.Scan(&r.Symbol, &class, &outcome, &r.NewBars, &r.Error); err != nil {
			return nil, err
		}
		r.Class = domain.AssetClass(class)
		r.Outcome = domain.RunOutcome(outcome)
		results = append(results, r)
	}
	return results, rows.Err()
}
