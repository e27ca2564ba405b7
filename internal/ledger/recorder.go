package ledger

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/kingrea/covloop/internal/refine"
)

// Recorder writes controller progress into the ledger. Ledger failures are
// logged and never interrupt a run.
type Recorder struct {
	refine.NopObserver
	ledger *Ledger
	logger *slog.Logger
	clock  func() time.Time
	runID  string
}

// NewRecorder returns an observer backed by l.
func NewRecorder(l *Ledger, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{ledger: l, logger: logger, clock: time.Now}
}

// RunStarted implements refine.Observer.
func (r *Recorder) RunStarted(info refine.RunInfo) {
	r.runID = info.RunID
	err := r.ledger.StartRun(context.Background(), Run{
		ID:        info.RunID,
		Backend:   info.Backend,
		DUT:       info.DUT,
		Target:    info.Target,
		Phase:     string(refine.PhaseAwaitingGeneration),
		StartedAt: info.Started,
	})
	if err != nil {
		r.logger.Warn("ledger: record run start", "run_id", info.RunID, "error", err)
	}
}

// IterationFinished implements refine.Observer.
func (r *Recorder) IterationFinished(result refine.IterationResult) {
	it := Iteration{
		RunID:          r.runID,
		Number:         result.Iteration,
		Status:         result.Status,
		CompileRetries: result.CompileRetries,
		CoverageRounds: result.CoverageRounds,
		Compiled:       result.Compiled,
		Uncovered:      len(result.Uncovered),
		SimTimedOut:    result.SimTimedOut,
		ValidTestbench: result.ValidTestbench,
		Next:           string(result.Next),
		Duration:       result.Duration,
	}
	if result.CoverageKnown {
		it.Coverage = sql.NullFloat64{Float64: result.Coverage, Valid: true}
	}
	if err := r.ledger.RecordIteration(context.Background(), it); err != nil {
		r.logger.Warn("ledger: record iteration", "run_id", r.runID, "iteration", result.Iteration, "error", err)
	}
}

// RunFinished implements refine.Observer.
func (r *Recorder) RunFinished(outcome refine.Outcome, runErr error) {
	phase := string(outcome.State.Phase)
	if runErr != nil {
		phase = "failed"
	}
	if err := r.ledger.FinishRun(context.Background(), outcome.RunID, phase, runErr, r.clock()); err != nil {
		r.logger.Warn("ledger: record run finish", "run_id", outcome.RunID, "error", err)
	}
}
