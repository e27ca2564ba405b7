package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kingrea/covloop/internal/conversation"
	"github.com/kingrea/covloop/internal/extract"
	"github.com/kingrea/covloop/internal/llm"
	"github.com/kingrea/covloop/internal/toolchain"
)

var (
	// ErrNoTestbench is returned when a model response holds no module block.
	ErrNoTestbench = errors.New("refine: no testbench found in model response")
	// ErrBackend wraps model backend failures.
	ErrBackend = errors.New("refine: model backend failed")
	// ErrToolchain wraps failures to hand a test to the toolchain or to read
	// what it produced.
	ErrToolchain = errors.New("refine: toolchain failed")
)

// Simulator is the toolchain as seen by the controller.
type Simulator interface {
	WriteTest(code string) (string, error)
	Run(ctx context.Context) (toolchain.Result, error)
}

// Journal receives human-readable progress lines.
type Journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopJournal struct{}

func (nopJournal) Info(string, ...any)  {}
func (nopJournal) Warn(string, ...any)  {}
func (nopJournal) Error(string, ...any) {}

// Settings are the run parameters.
type Settings struct {
	// Target is the transition coverage percentage that ends a run.
	Target              float64
	CompileRetryBudget  int
	CoverageRetryBudget int
	// RejectInvalid skips simulation of candidates that fail the testbench
	// acceptance check and charges them to the compile budget.
	RejectInvalid  bool
	BenignWarnings []string
	// RunDir receives checkpoints, generated tests, the transcript and the
	// state snapshot.
	RunDir string
	// SourceDir resolves relative paths in coverage items.
	SourceDir string
	// Backend labels the run in snapshots and observers.
	Backend string
}

func (s Settings) validate() error {
	switch {
	case s.Target <= 0 || s.Target > 100:
		return fmt.Errorf("refine: coverage target %.2f must be in (0, 100]", s.Target)
	case s.CompileRetryBudget <= 0:
		return fmt.Errorf("refine: compile retry budget must be positive")
	case s.CoverageRetryBudget < 0:
		return fmt.Errorf("refine: coverage retry budget must not be negative")
	case s.RunDir == "":
		return fmt.Errorf("refine: run dir is required")
	}
	return nil
}

// Controller drives one design through the refinement loop.
type Controller struct {
	gen      llm.Generator
	sim      Simulator
	settings Settings
	store    StateStore
	observer Observer
	journal  Journal
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
}

// Option customizes the controller instance.
type Option func(*Controller)

// WithStateStore replaces the default state.json repository.
func WithStateStore(store StateStore) Option {
	return func(c *Controller) {
		if store != nil {
			c.store = store
		}
	}
}

// WithObserver registers progress callbacks.
func WithObserver(observer Observer) Option {
	return func(c *Controller) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithJournal routes progress lines to a journal.
func WithJournal(journal Journal) Option {
	return func(c *Controller) {
		if journal != nil {
			c.journal = journal
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.newID = func() string { return id }
		}
	}
}

// New wires a controller to a model backend and a toolchain.
func New(gen llm.Generator, sim Simulator, settings Settings, opts ...Option) (*Controller, error) {
	if gen == nil {
		return nil, fmt.Errorf("refine: model backend is required")
	}
	if sim == nil {
		return nil, fmt.Errorf("refine: simulator is required")
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		gen:      gen,
		sim:      sim,
		settings: settings,
		store:    NewRepository(settings.RunDir),
		observer: NopObserver{},
		journal:  nopJournal{},
		logger:   slog.Default(),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type run struct {
	conv     *conversation.Conversation
	design   Design
	state    RunState
	snapshot Snapshot
	outcome  Outcome
}

// Run seeds the conversation with the task contract and the design, then
// iterates until the coverage target is reached or a budget runs out. The
// returned error is non-nil only for fatal failures; budget exhaustion is
// reported through Outcome.TimedOut.
func (c *Controller) Run(ctx context.Context, design Design) (Outcome, error) {
	if design.Prompt == "" {
		return Outcome{}, fmt.Errorf("refine: design prompt is required")
	}
	if err := os.MkdirAll(c.settings.RunDir, 0o755); err != nil {
		return Outcome{}, fmt.Errorf("refine: create run dir: %w", err)
	}
	now := c.clock()
	r := &run{
		conv:   conversation.New(conversation.NewFileSink(filepath.Join(c.settings.RunDir, ConversationFileName))),
		design: design,
		state:  RunState{Phase: PhaseAwaitingGeneration},
	}
	r.outcome = Outcome{RunID: c.newID(), RunDir: c.settings.RunDir}
	r.snapshot = Snapshot{
		RunID:     r.outcome.RunID,
		Backend:   c.settings.Backend,
		DUT:       design.DUTName,
		Target:    c.settings.Target,
		State:     r.state,
		StartedAt: now,
		UpdatedAt: now,
	}
	c.observer.RunStarted(RunInfo{
		RunID:   r.outcome.RunID,
		Backend: c.settings.Backend,
		DUT:     design.DUTName,
		Target:  c.settings.Target,
		RunDir:  c.settings.RunDir,
		Started: now,
	})
	c.logger.Info("run started", "run_id", r.outcome.RunID, "backend", c.settings.Backend, "dut", design.DUTName, "target", c.settings.Target)
	c.journal.Info("run %s started (backend %s, target %.2f%%)", r.outcome.RunID, c.settings.Backend, c.settings.Target)

	err := c.loop(ctx, r)
	r.outcome.State = r.state
	if err != nil {
		c.logger.Error("run failed", "run_id", r.outcome.RunID, "phase", r.state.Phase, "error", err)
		c.journal.Error("run %s failed in %s: %v", r.outcome.RunID, r.state.Phase, err)
		r.snapshot.Error = err.Error()
	} else {
		c.logger.Info("run finished", "run_id", r.outcome.RunID, "phase", r.state.Phase, "iterations", r.state.Iteration)
		c.journal.Info("run %s finished: %s after %d iterations", r.outcome.RunID, r.state.Phase, r.state.Iteration)
	}
	c.saveSnapshot(r)
	c.observer.RunFinished(r.outcome, err)
	return r.outcome, err
}

func (c *Controller) loop(ctx context.Context, r *run) error {
	if warmer, ok := c.gen.(llm.Warmer); ok {
		c.journal.Info("warming up model backend")
		if err := warmer.Warmup(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrBackend, err)
		}
	}
	if err := r.conv.Add(conversation.RoleSystem, SystemPrompt); err != nil {
		return fmt.Errorf("refine: %w", err)
	}
	if err := r.conv.Add(conversation.RoleUser, r.design.Prompt); err != nil {
		return fmt.Errorf("refine: %w", err)
	}
	for !r.state.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.state.Iteration++
		c.setPhase(r, PhaseAwaitingGeneration)
		result, err := c.iterate(ctx, r)
		if err != nil {
			return err
		}
		r.outcome.Iterations = append(r.outcome.Iterations, result)
		c.observer.IterationFinished(result)
	}
	return nil
}

func (c *Controller) iterate(ctx context.Context, r *run) (IterationResult, error) {
	start := c.clock()
	result := IterationResult{Iteration: r.state.Iteration}

	code, err := c.generate(ctx, r)
	if err != nil {
		return result, err
	}
	check := extract.CheckTestbench(code, r.design.DUTName)
	result.ValidTestbench = check.OK()
	if !result.ValidTestbench {
		c.logger.Warn("candidate failed testbench checks", "iteration", r.state.Iteration, "missing", check.Missing())
	}

	var next Phase
	if !result.ValidTestbench && c.settings.RejectInvalid {
		result.Status = StatusInvalid
		next, err = c.compileFailure(r, invalidTestbenchFeedback(r.design.DUTName, check.Missing()))
	} else {
		next, err = c.simulateAndEvaluate(ctx, r, code, &result)
	}
	if err != nil {
		return result, err
	}

	if err := writeCheckpoint(CheckpointPath(c.settings.RunDir, r.state.CompileRetries), r.conv.Messages(), result.Status); err != nil {
		return result, err
	}
	c.setPhase(r, next)
	result.Next = next
	result.CompileRetries = r.state.CompileRetries
	result.CoverageRounds = r.state.CoverageRounds
	result.Duration = c.clock().Sub(start)

	r.snapshot.LastStatus = result.Status
	if result.CoverageKnown {
		cov := result.Coverage
		r.snapshot.LastCoverage = &cov
		r.outcome.Coverage, r.outcome.Known = cov, true
	}
	c.saveSnapshot(r)
	c.logger.Info("iteration finished", "iteration", result.Iteration, "status", result.Status,
		"compile_retries", result.CompileRetries, "coverage_rounds", result.CoverageRounds, "next", next)
	c.journal.Info("iteration %d: %s (compile retries %d, coverage rounds %d)",
		result.Iteration, result.Status, result.CompileRetries, result.CoverageRounds)
	return result, nil
}

// generate asks the model for the next candidate. The raw response is kept
// in the transcript even when no code can be pulled from it.
func (c *Controller) generate(ctx context.Context, r *run) (string, error) {
	response, err := c.gen.Generate(ctx, r.conv.Messages())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if err := r.conv.Add(conversation.RoleAssistant, response); err != nil {
		return "", fmt.Errorf("refine: %w", err)
	}
	blocks := extract.CodeBlocks(response)
	if len(blocks) == 0 {
		return "", fmt.Errorf("%w (iteration %d): %s", ErrNoTestbench, r.state.Iteration, abbreviate(response, 400))
	}
	code := extract.JoinBlocks(blocks)
	if err := writeGeneratedTest(GeneratedTestPath(c.settings.RunDir, r.state.Iteration), code); err != nil {
		return "", err
	}
	return code, nil
}

func (c *Controller) simulateAndEvaluate(ctx context.Context, r *run, code string, result *IterationResult) (Phase, error) {
	c.setPhase(r, PhaseAwaitingSimulation)
	if _, err := c.sim.WriteTest(code); err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolchain, err)
	}
	simResult, err := c.sim.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolchain, err)
	}
	result.SimTimedOut = simResult.TimedOut
	if simResult.TimedOut {
		c.journal.Warn("iteration %d: simulation timed out, evaluating partial output", r.state.Iteration)
	}

	c.setPhase(r, PhaseEvaluating)
	diag, err := extract.CompileDiagnosticsFile(simResult.LogPath, c.settings.BenignWarnings)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolchain, err)
	}
	result.Errors, result.Warnings = diag.Errors, diag.Warnings
	switch {
	case len(diag.Errors) > 0:
		result.Status = StatusCompileErrors
		return c.compileFailure(r, compileErrorFeedback(diag.Errors))
	case len(diag.Warnings) > 0:
		result.Status = StatusCompileWarnings
		result.HadWarnings = true
		return c.compileFailure(r, compileWarningFeedback(diag.Warnings))
	}

	result.Compiled = true
	r.state.CompileRetries = 0

	report, err := extract.ReadOptional(simResult.ReportPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolchain, err)
	}
	summary := extract.SummarizeCoverage(report)
	if summary.ParseErr != nil {
		c.logger.Warn("coverage percent unreadable; treating as shortfall", "error", summary.ParseErr)
	}
	result.Coverage, result.CoverageKnown = summary.Percent, summary.Known
	result.Uncovered = summary.Uncovered

	switch {
	case summary.MeetsTarget(c.settings.Target):
		result.Status = StatusTargetAchieved
		return PhaseSucceeded, nil
	case r.state.CoverageRounds >= c.settings.CoverageRetryBudget:
		result.Status = StatusIterationsOut
		return PhaseTimedOut, nil
	}
	result.Status = StatusShortfall
	excerpts := coverageExcerpts(extract.CoverageItems(report), c.settings.SourceDir)
	if err := r.conv.Add(conversation.RoleUser, coverageFeedback(r.design.Prompt, summary.Uncovered, excerpts)); err != nil {
		return "", fmt.Errorf("refine: %w", err)
	}
	r.state.CoverageRounds++
	return PhaseContinue, nil
}

// compileFailure appends feedback and charges the compile budget.
func (c *Controller) compileFailure(r *run, feedback string) (Phase, error) {
	if err := r.conv.Add(conversation.RoleUser, feedback); err != nil {
		return "", fmt.Errorf("refine: %w", err)
	}
	r.state.CompileRetries++
	if r.state.CompileRetries >= c.settings.CompileRetryBudget {
		c.journal.Warn("compile retry budget of %d exhausted", c.settings.CompileRetryBudget)
		return PhaseTimedOut, nil
	}
	return PhaseContinue, nil
}

func (c *Controller) setPhase(r *run, phase Phase) {
	r.state.Phase = phase
	c.observer.PhaseChanged(r.state)
}

func (c *Controller) saveSnapshot(r *run) {
	r.snapshot.State = r.state
	r.snapshot.UpdatedAt = c.clock()
	if err := c.store.Save(r.snapshot); err != nil {
		c.logger.Warn("could not persist run state", "error", err)
	}
}

// abbreviate cuts text to at most limit bytes on a rune boundary.
func abbreviate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
