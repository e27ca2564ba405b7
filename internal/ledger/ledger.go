// Package ledger records every refinement run and iteration in a SQLite
// database so past runs can be listed and compared.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when a run ID is not in the ledger.
var ErrRunNotFound = errors.New("ledger: run not found")

// Run is one row of the runs table.
type Run struct {
	ID         string
	Backend    string
	DUT        string
	Target     float64
	Phase      string
	Iterations int
	Coverage   sql.NullFloat64
	Error      string
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Iteration is one row of the iterations table.
type Iteration struct {
	RunID          string
	Number         int
	Status         string
	CompileRetries int
	CoverageRounds int
	Compiled       bool
	Coverage       sql.NullFloat64
	Uncovered      int
	SimTimedOut    bool
	ValidTestbench bool
	Next           string
	Duration       time.Duration
}

// Ledger is a SQLite-backed run history.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create database directory: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: ping database: %w", err)
	}
	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Ledger) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		backend TEXT NOT NULL,
		dut TEXT NOT NULL,
		target REAL NOT NULL,
		phase TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		coverage REAL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS iterations (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		iteration INTEGER NOT NULL,
		status TEXT NOT NULL,
		compile_retries INTEGER NOT NULL,
		coverage_rounds INTEGER NOT NULL,
		compiled INTEGER NOT NULL,
		coverage REAL,
		uncovered INTEGER NOT NULL,
		sim_timed_out INTEGER NOT NULL,
		valid_testbench INTEGER NOT NULL,
		next_phase TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, iteration)
	);
	`
	if _, err := l.db.Exec(query); err != nil {
		return fmt.Errorf("ledger: create schema: %w", err)
	}
	return nil
}

// StartRun inserts a run row in its initial phase.
func (l *Ledger) StartRun(ctx context.Context, run Run) error {
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO runs (run_id, backend, dut, target, phase, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Backend, run.DUT, run.Target, run.Phase, run.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("ledger: insert run: %w", err)
	}
	return nil
}

// RecordIteration stores one iteration and bumps the run's counters.
func (l *Ledger) RecordIteration(ctx context.Context, it Iteration) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO iterations (run_id, iteration, status, compile_retries, coverage_rounds, compiled,
		coverage, uncovered, sim_timed_out, valid_testbench, next_phase, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, iteration) DO UPDATE SET
		status = excluded.status,
		compile_retries = excluded.compile_retries,
		coverage_rounds = excluded.coverage_rounds,
		compiled = excluded.compiled,
		coverage = excluded.coverage,
		uncovered = excluded.uncovered,
		sim_timed_out = excluded.sim_timed_out,
		valid_testbench = excluded.valid_testbench,
		next_phase = excluded.next_phase,
		duration_ms = excluded.duration_ms`,
		it.RunID, it.Number, it.Status, it.CompileRetries, it.CoverageRounds, it.Compiled,
		it.Coverage, it.Uncovered, it.SimTimedOut, it.ValidTestbench, it.Next, it.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("ledger: insert iteration: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
	UPDATE runs SET iterations = ?, phase = ?, coverage = COALESCE(?, coverage) WHERE run_id = ?`,
		it.Number, it.Next, it.Coverage, it.RunID)
	if err != nil {
		return fmt.Errorf("ledger: update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, it.RunID)
	}
	return tx.Commit()
}

// FinishRun records the terminal phase of a run and any fatal error.
func (l *Ledger) FinishRun(ctx context.Context, runID, phase string, runErr error, finished time.Time) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := l.db.ExecContext(ctx, `
	UPDATE runs SET phase = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		phase, msg, finished.UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Runs lists the most recent runs first. limit <= 0 lists all.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `
	SELECT run_id, backend, dut, target, phase, iterations, coverage, error, started_at, finished_at
	FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run fetches a single run.
func (l *Ledger) Run(ctx context.Context, runID string) (Run, error) {
	row := l.db.QueryRowContext(ctx, `
	SELECT run_id, backend, dut, target, phase, iterations, coverage, error, started_at, finished_at
	FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Iterations lists a run's iterations in order.
func (l *Ledger) Iterations(ctx context.Context, runID string) ([]Iteration, error) {
	rows, err := l.db.QueryContext(ctx, `
	SELECT run_id, iteration, status, compile_retries, coverage_rounds, compiled, coverage,
		uncovered, sim_timed_out, valid_testbench, next_phase, duration_ms
	FROM iterations WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query iterations: %w", err)
	}
	defer rows.Close()

	var out []Iteration
	for rows.Next() {
		var it Iteration
		var durationMS int64
		if err := rows.Scan(&it.RunID, &it.Number, &it.Status, &it.CompileRetries, &it.CoverageRounds,
			&it.Compiled, &it.Coverage, &it.Uncovered, &it.SimTimedOut, &it.ValidTestbench, &it.Next, &durationMS); err != nil {
			return nil, fmt.Errorf("ledger: scan iteration: %w", err)
		}
		it.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	if err := row.Scan(&run.ID, &run.Backend, &run.DUT, &run.Target, &run.Phase, &run.Iterations,
		&run.Coverage, &run.Error, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("ledger: scan run: %w", err)
	}
	run.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		run.FinishedAt = sql.NullTime{Time: time.UnixMilli(finished.Int64), Valid: true}
	}
	return run, nil
}
