package refine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/covloop/internal/conversation"
	"github.com/kingrea/covloop/internal/toolchain"
)

const candidate = `Here you go:
module tb();
  reg clk;
  initial begin
    $fsdbDumpfile("waves.fsdb");
    $fsdbDumpvars(0, tb);
  end
  fsm dut (.clk(clk));
  initial #100 $finish;
endmodule`

const errorLog = "Error-[SE] Syntax error\n  \"tb.v\", 7: token is ';'\n\n"

type scriptedGenerator struct {
	responses []string
	err       error
	calls     int
	seen      [][]conversation.Message
	warmups   int
}

func (g *scriptedGenerator) Generate(ctx context.Context, messages []conversation.Message) (string, error) {
	g.seen = append(g.seen, messages)
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return candidate, nil
	}
	idx := g.calls - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	return g.responses[idx], nil
}

type warmGenerator struct {
	*scriptedGenerator
}

func (w warmGenerator) Warmup(context.Context) error {
	w.warmups++
	return nil
}

type simStep struct {
	log    string
	report string
	// timedOut marks the run as killed at the deadline.
	timedOut bool
	// noOutput leaves neither a log nor a report behind.
	noOutput bool
}

type fakeSimulator struct {
	dir    string
	steps  []simStep
	runs   int
	writes []string
}

func (s *fakeSimulator) WriteTest(code string) (string, error) {
	s.writes = append(s.writes, code)
	return filepath.Join(s.dir, "tb.v"), nil
}

func (s *fakeSimulator) Run(ctx context.Context) (toolchain.Result, error) {
	step := s.steps[len(s.steps)-1]
	if s.runs < len(s.steps) {
		step = s.steps[s.runs]
	}
	s.runs++
	res := toolchain.Result{
		LogPath:    filepath.Join(s.dir, "vcs.log"),
		ReportPath: filepath.Join(s.dir, "modinfo.txt"),
		TimedOut:   step.timedOut,
	}
	if step.noOutput {
		_ = os.Remove(res.LogPath)
		_ = os.Remove(res.ReportPath)
		return res, nil
	}
	for path, body := range map[string]string{res.LogPath: step.log, res.ReportPath: step.report} {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return res, err
		}
	}
	return res, nil
}

func coverageReport(percent string) string {
	return fmt.Sprintf("Transitions 4 3 %s\nState, Transition and Sequence Details\n  S1->S2 3 Not Covered\nBranch Coverage for Module\n", percent)
}

func newTestController(t *testing.T, gen *scriptedGenerator, sim *fakeSimulator, mutate func(*Settings)) *Controller {
	t.Helper()
	settings := Settings{
		Target:              90,
		CompileRetryBudget:  5,
		CoverageRetryBudget: 10,
		RunDir:              filepath.Join(t.TempDir(), "run"),
		Backend:             "stub",
	}
	if mutate != nil {
		mutate(&settings)
	}
	ctrl, err := New(gen, sim, settings,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRunID("run-1"),
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
	)
	require.NoError(t, err)
	return ctrl
}

func design() Design {
	return DesignFromRTL("module fsm(input clk);\nendmodule\n", "fsm.v")
}

func userMessages(messages []conversation.Message) []string {
	var out []string
	for _, msg := range messages {
		if msg.Role == conversation.RoleUser {
			out = append(out, msg.Content)
		}
	}
	return out
}

func TestRunSucceedsOnFirstIteration(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{log: "Compilation done\n", report: coverageReport("95%")}}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.False(t, out.TimedOut())
	assert.Equal(t, 1, out.State.Iteration)
	assert.Equal(t, 95.0, out.Coverage)
	require.Len(t, out.Iterations, 1)
	assert.Equal(t, StatusTargetAchieved, out.Iterations[0].Status)
	assert.True(t, out.Iterations[0].ValidTestbench)

	require.Len(t, gen.seen, 1)
	first := gen.seen[0]
	require.Len(t, first, 2)
	assert.Equal(t, conversation.RoleSystem, first[0].Role)
	assert.Contains(t, first[1].Content, "DUT name: fsm")

	checkpoint, err := os.ReadFile(CheckpointPath(out.RunDir, 0))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(checkpoint), "\n\n Iteration status: Target Achieved\n"))
	assert.FileExists(t, GeneratedTestPath(out.RunDir, 1))
	assert.True(t, strings.HasPrefix(sim.writes[0], "module tb();"))

	snap, err := NewRepository(out.RunDir).Load()
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, PhaseSucceeded, snap.State.Phase)
	require.NotNil(t, snap.LastCoverage)
	assert.Equal(t, 95.0, *snap.LastCoverage)

	saved, err := conversation.Load(filepath.Join(out.RunDir, ConversationFileName))
	require.NoError(t, err)
	assert.Len(t, saved, 3)
}

func TestRunTimesOutAfterCompileBudget(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{log: errorLog, report: coverageReport("99%")}}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.TimedOut())
	assert.False(t, out.Succeeded())
	assert.Equal(t, 5, out.State.Iteration)
	assert.Equal(t, 5, out.State.CompileRetries)
	assert.Equal(t, 0, out.State.CoverageRounds)
	for _, it := range out.Iterations {
		assert.False(t, it.Compiled)
		assert.False(t, it.CoverageKnown, "coverage must not be evaluated after a failed compile")
		assert.Equal(t, StatusCompileErrors, it.Status)
	}

	feedback := userMessages(gen.seen[1])
	require.Len(t, feedback, 2)
	assert.Contains(t, feedback[1], errorLog, "errors must be quoted verbatim")

	for n := 1; n <= 5; n++ {
		assert.FileExists(t, CheckpointPath(out.RunDir, n))
	}
}

func TestRunConvergesOverCoverageRounds(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{
		{report: coverageReport("40%")},
		{report: coverageReport("60%")},
		{report: coverageReport("80%")},
		{report: coverageReport("92%")},
	}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	assert.Equal(t, 4, out.State.Iteration)
	assert.Equal(t, 3, out.State.CoverageRounds)

	saved, err := conversation.Load(filepath.Join(out.RunDir, ConversationFileName))
	require.NoError(t, err)
	var coverageFeedback int
	for _, msg := range userMessages(saved) {
		if strings.Contains(msg, "do not delete any existing test cases") {
			coverageFeedback++
			assert.Contains(t, msg, "S1->S2 Not Covered")
			assert.Contains(t, msg, "DUT name: fsm", "feedback restates the design")
		}
	}
	assert.Equal(t, 3, coverageFeedback)
}

func TestCompileCounterResetsAfterCleanCompile(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{
		{log: errorLog},
		{log: errorLog},
		{log: errorLog},
		{report: coverageReport("50%")},
		{log: errorLog},
		{log: errorLog},
		{log: errorLog},
		{log: errorLog},
		{report: coverageReport("91%")},
	}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded(), "four errors after a reset stay under a budget of five")
	require.Len(t, out.Iterations, 9)
	assert.Equal(t, 3, out.Iterations[2].CompileRetries)
	assert.Equal(t, 0, out.Iterations[3].CompileRetries)
	assert.Equal(t, 4, out.Iterations[7].CompileRetries)
}

func TestWarningsAreTreatedAsFailures(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{
		{log: "Warning-[TFIPC] Too few ports\n  detail\n\n", report: coverageReport("99%")},
		{log: "Warning-[LCA_FEATURES_ENABLED] usage\n  x\n\n", report: coverageReport("99%")},
	}}
	ctrl := newTestController(t, gen, sim, func(s *Settings) { s.BenignWarnings = []string{"LCA_FEATURES_ENABLED"} })

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	require.Len(t, out.Iterations, 2)
	assert.Equal(t, StatusCompileWarnings, out.Iterations[0].Status)
	assert.True(t, out.Iterations[0].HadWarnings)
	assert.Equal(t, StatusTargetAchieved, out.Iterations[1].Status)
}

func TestUnknownCoverageIsAShortfall(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{
		{report: "Transitions 4 3 n/a\n"},
		{report: ""},
		{report: coverageReport("100%")},
	}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	require.Len(t, out.Iterations, 3)
	assert.Equal(t, StatusShortfall, out.Iterations[0].Status)
	assert.False(t, out.Iterations[0].CoverageKnown)
	assert.Equal(t, StatusShortfall, out.Iterations[1].Status)
}

func TestErrorAtEndOfLogIsACompileFailure(t *testing.T) {
	truncated := "Compiling tb.v\nError-[SE] Syntax error\n  \"tb.v\", 7: token is ';'\n"
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{
		{log: truncated, report: coverageReport("50%")},
		{log: strings.TrimSuffix(truncated, "\n"), report: coverageReport("50%")},
		{report: coverageReport("95%")},
	}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	require.Len(t, out.Iterations, 3)
	for _, it := range out.Iterations[:2] {
		assert.Equal(t, StatusCompileErrors, it.Status)
		assert.False(t, it.Compiled)
		require.Len(t, it.Errors, 1)
	}
	assert.Equal(t, 2, out.Iterations[1].CompileRetries)

	msgs := userMessages(gen.seen[1])
	assert.Contains(t, msgs[len(msgs)-1], "token is ';'", "the error text is fed back verbatim")
}

func TestSimulationTimeoutIsRecoverable(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{
		{timedOut: true, noOutput: true},
		{timedOut: true, log: "Compiling tb.v\nError-[SE] Syntax error\n  partial"},
		{report: coverageReport("95%")},
	}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	require.Len(t, out.Iterations, 3)

	missing := out.Iterations[0]
	assert.True(t, missing.SimTimedOut)
	assert.Equal(t, StatusShortfall, missing.Status)
	assert.False(t, missing.CoverageKnown)
	assert.Equal(t, 1, missing.CoverageRounds)

	partial := out.Iterations[1]
	assert.True(t, partial.SimTimedOut)
	assert.Equal(t, StatusCompileErrors, partial.Status)
	assert.Equal(t, 1, partial.CompileRetries)

	assert.False(t, out.Iterations[2].SimTimedOut)
}

func TestAbbreviateKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", abbreviate("short", 10))
	got := abbreviate("ééé", 3)
	assert.True(t, utf8.ValidString(got), "got %q", got)
	assert.Equal(t, "é...", got)
}

func TestCoverageBudgetExhaustion(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{report: coverageReport("10%")}}}
	ctrl := newTestController(t, gen, sim, func(s *Settings) { s.CoverageRetryBudget = 2 })

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.TimedOut())
	assert.Equal(t, 3, out.State.Iteration)
	assert.Equal(t, 2, out.State.CoverageRounds)
	assert.Equal(t, StatusIterationsOut, out.Iterations[2].Status)
}

func TestMissingTestbenchIsFatal(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"I'm sorry, I cannot produce that."}}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{}}}
	ctrl := newTestController(t, gen, sim, nil)

	out, err := ctrl.Run(context.Background(), design())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTestbench)
	assert.Zero(t, sim.runs)

	saved, loadErr := conversation.Load(filepath.Join(out.RunDir, ConversationFileName))
	require.NoError(t, loadErr)
	require.Len(t, saved, 3)
	assert.Equal(t, conversation.RoleAssistant, saved[2].Role, "rejected responses stay in the transcript")

	snap, loadErr := NewRepository(out.RunDir).Load()
	require.NoError(t, loadErr)
	assert.NotEmpty(t, snap.Error)
}

func TestBackendFailureIsFatal(t *testing.T) {
	boom := errors.New("401 unauthorized")
	gen := &scriptedGenerator{err: boom}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{}}}
	ctrl := newTestController(t, gen, sim, nil)

	_, err := ctrl.Run(context.Background(), design())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, gen.calls, "backend failures are not retried")
}

func TestRejectInvalidSkipsSimulation(t *testing.T) {
	bad := strings.Replace(candidate, "$finish", "$stop", 1)
	gen := &scriptedGenerator{responses: []string{bad, candidate}}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{report: coverageReport("95%")}}}
	ctrl := newTestController(t, gen, sim, func(s *Settings) { s.RejectInvalid = true })

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.True(t, out.Succeeded())
	require.Len(t, out.Iterations, 2)
	assert.Equal(t, StatusInvalid, out.Iterations[0].Status)
	assert.Equal(t, 1, out.Iterations[0].CompileRetries)
	assert.Equal(t, 1, sim.runs)
	assert.Contains(t, userMessages(gen.seen[1])[1], "$finish")
}

func TestWarmupRunsOncePerRun(t *testing.T) {
	inner := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{report: coverageReport("50%")}, {report: coverageReport("95%")}}}
	settings := Settings{Target: 90, CompileRetryBudget: 5, CoverageRetryBudget: 10, RunDir: t.TempDir()}
	ctrl, err := New(warmGenerator{inner}, sim, settings, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	out, err := ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.Equal(t, 2, out.State.Iteration)
	assert.Equal(t, 1, inner.warmups)
	assert.NotEmpty(t, out.RunID)
}

type recordingObserver struct {
	NopObserver
	phases   []Phase
	finished []IterationResult
	outcome  *Outcome
}

func (o *recordingObserver) PhaseChanged(s RunState)             { o.phases = append(o.phases, s.Phase) }
func (o *recordingObserver) IterationFinished(r IterationResult) { o.finished = append(o.finished, r) }
func (o *recordingObserver) RunFinished(out Outcome, err error)  { o.outcome = &out }

func TestObserverSeesPhaseSequence(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{dir: t.TempDir(), steps: []simStep{{report: coverageReport("50%")}, {report: coverageReport("95%")}}}
	obs := &recordingObserver{}
	settings := Settings{Target: 90, CompileRetryBudget: 5, CoverageRetryBudget: 10, RunDir: t.TempDir()}
	ctrl, err := New(gen, sim, settings, WithObserver(obs), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	_, err = ctrl.Run(context.Background(), design())
	require.NoError(t, err)
	assert.Equal(t, []Phase{
		PhaseAwaitingGeneration, PhaseAwaitingSimulation, PhaseEvaluating, PhaseContinue,
		PhaseAwaitingGeneration, PhaseAwaitingSimulation, PhaseEvaluating, PhaseSucceeded,
	}, obs.phases)
	assert.Len(t, obs.finished, 2)
	require.NotNil(t, obs.outcome)
	assert.True(t, obs.outcome.Succeeded())
}

func TestNewValidatesSettings(t *testing.T) {
	gen := &scriptedGenerator{}
	sim := &fakeSimulator{}
	_, err := New(gen, sim, Settings{Target: 0, CompileRetryBudget: 5, RunDir: "x"})
	require.Error(t, err)
	_, err = New(gen, sim, Settings{Target: 90, CompileRetryBudget: 0, RunDir: "x"})
	require.Error(t, err)
	_, err = New(nil, sim, Settings{Target: 90, CompileRetryBudget: 5, RunDir: "x"})
	require.Error(t, err)
}
