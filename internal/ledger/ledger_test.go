package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/covloop/internal/refine"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedgerRecordsRunLifecycle(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.StartRun(ctx, Run{ID: "r1", Backend: "openai", DUT: "fsm", Target: 90, Phase: "awaiting-generation", StartedAt: started}))
	require.NoError(t, l.RecordIteration(ctx, Iteration{RunID: "r1", Number: 1, Status: "Error compiling testbench", CompileRetries: 1, Next: "continue", Duration: 1500 * time.Millisecond}))
	require.NoError(t, l.RecordIteration(ctx, Iteration{RunID: "r1", Number: 2, Status: "Target Achieved", Compiled: true, Coverage: sql.NullFloat64{Float64: 93.5, Valid: true}, ValidTestbench: true, Next: "succeeded"}))
	require.NoError(t, l.FinishRun(ctx, "r1", "succeeded", nil, started.Add(time.Minute)))

	run, err := l.Run(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", run.Phase)
	assert.Equal(t, 2, run.Iterations)
	assert.True(t, run.Coverage.Valid)
	assert.Equal(t, 93.5, run.Coverage.Float64)
	assert.True(t, run.FinishedAt.Valid)
	assert.True(t, run.StartedAt.Equal(started))

	its, err := l.Iterations(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, its, 2)
	assert.False(t, its[0].Compiled)
	assert.False(t, its[0].Coverage.Valid)
	assert.Equal(t, 1500*time.Millisecond, its[0].Duration)
	assert.True(t, its[1].ValidTestbench)
}

func TestLedgerListsRecentRunsFirst(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.StartRun(ctx, Run{ID: id, Backend: "ollama", Target: 90, Phase: "awaiting-generation", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	runs, err := l.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestLedgerUnknownRun(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	_, err := l.Run(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	err = l.RecordIteration(ctx, Iteration{RunID: "missing", Number: 1, Status: "x", Next: "continue"})
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRecorderObservesController(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	rec := NewRecorder(l, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec.RunStarted(refine.RunInfo{RunID: "r2", Backend: "anthropic", DUT: "fsm", Target: 90, Started: time.Now()})
	rec.IterationFinished(refine.IterationResult{Iteration: 1, Status: refine.StatusShortfall, Compiled: true, Coverage: 40, CoverageKnown: true, Uncovered: []string{"S0->S1 Not Covered"}, Next: refine.PhaseContinue})
	rec.RunFinished(refine.Outcome{RunID: "r2", State: refine.RunState{Phase: refine.PhaseTimedOut, Iteration: 1}}, nil)

	run, err := l.Run(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, "timed-out", run.Phase)
	assert.Equal(t, 40.0, run.Coverage.Float64)

	its, err := l.Iterations(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, its, 1)
	assert.Equal(t, 1, its[0].Uncovered)
}
