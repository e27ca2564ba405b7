package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/config"
	"github.com/kingrea/covloop/internal/ledger"
	"github.com/kingrea/covloop/internal/llm"
	"github.com/kingrea/covloop/internal/logbook"
	"github.com/kingrea/covloop/internal/logging"
	"github.com/kingrea/covloop/internal/refine"
	"github.com/kingrea/covloop/internal/toolchain"
	"github.com/kingrea/covloop/internal/tui"
)

type runOptions struct {
	prompt        string
	designFile    string
	designDir     string
	backend       string
	model         string
	target        float64
	maxIterations int
	compileBudget int
	timeout       time.Duration
	outDir        string
	useTUI        bool
	sets          keyValueFlag
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{sets: keyValueFlag{}}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a testbench and refine it until the coverage target is met",
		Long: `Runs the refinement loop for one design. The design comes from exactly ` +
			`one of --prompt, --design-file or --design-dir. Exit status is 0 when ` +
			`the target was reached, 2 when a retry budget ran out and 1 on error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, root)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.prompt, "prompt", "", "design description sent as-is")
	f.StringVar(&opts.designFile, "design-file", "", "RTL file of the design under test")
	f.StringVar(&opts.designDir, "design-dir", "", "directory of .v/.sv files making up the design")
	f.StringVar(&opts.backend, "backend", "", "model backend tag (openai, anthropic, ollama, chatgpt4, claude, ...)")
	f.StringVar(&opts.model, "model", "", "model name passed to the backend")
	f.Float64Var(&opts.target, "target", 0, "transition coverage target in percent")
	f.IntVar(&opts.maxIterations, "max-iterations", 0, "coverage retry budget")
	f.IntVar(&opts.compileBudget, "compile-budget", 0, "consecutive compile failure budget")
	f.DurationVar(&opts.timeout, "timeout", 0, "toolchain timeout per iteration")
	f.StringVar(&opts.outDir, "outdir", "", "run directory (defaults to .covloop/runs/<timestamp>)")
	f.BoolVar(&opts.useTUI, "tui", false, "show the live monitor while the run progresses")
	f.Var(&opts.sets, "set", "config override (key=value, repeatable)")
	cmd.MarkFlagsMutuallyExclusive("prompt", "design-file", "design-dir")
	cmd.MarkFlagsOneRequired("prompt", "design-file", "design-dir")
	return cmd
}

// flagOverrides maps the dedicated flags onto config keys. Only flags the
// user actually set take part; --set values win over them.
func (o *runOptions) flagOverrides(cmd *cobra.Command) keyValueFlag {
	out := keyValueFlag{}
	changed := cmd.Flags().Changed
	if changed("backend") {
		out["backend.name"] = o.backend
	}
	if changed("model") {
		out["backend.model"] = o.model
	}
	if changed("target") {
		out["coverage.target"] = strconv.FormatFloat(o.target, 'f', -1, 64)
	}
	if changed("max-iterations") {
		out["coverage.coverage_retry_budget"] = strconv.Itoa(o.maxIterations)
	}
	if changed("compile-budget") {
		out["coverage.compile_retry_budget"] = strconv.Itoa(o.compileBudget)
	}
	if changed("timeout") {
		out["toolchain.timeout"] = o.timeout.String()
	}
	for key, value := range o.sets {
		out[key] = value
	}
	return out
}

func (o *runOptions) design() (refine.Design, error) {
	switch {
	case o.prompt != "":
		return refine.DesignFromPrompt(o.prompt)
	case o.designFile != "":
		return refine.DesignFromPath(o.designFile)
	default:
		return refine.DesignFromPath(o.designDir)
	}
}

func (o *runOptions) run(cmd *cobra.Command, root *rootOptions) error {
	if err := config.InitDir(root.projectDir); err != nil {
		return err
	}
	cfg, err := root.loadConfig(o.flagOverrides(cmd))
	if err != nil {
		return err
	}
	design, err := o.design()
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(root.logLevel)
	if err != nil {
		return err
	}
	var mirror io.Writer = cmd.ErrOrStderr()
	if o.useTUI {
		mirror = nil
	}
	logger, err := logging.New(cfg.LogsDir(), level, mirror)
	if err != nil {
		return err
	}
	defer logger.Close()

	journal, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	pc := cfg.Project
	gen, err := llm.DefaultRegistry().Resolve(pc.Backend.Name, llm.Settings{
		Model:       pc.Backend.Model,
		BaseURL:     pc.Backend.BaseURL,
		Temperature: pc.Backend.Temperature,
		MaxTokens:   pc.Backend.MaxTokens,
		Logger:      logger.Logger,
	})
	if err != nil {
		return err
	}

	runner, err := toolchain.New(toolchain.Config{
		Command:        cfg.ToolchainCommand(),
		WorkDir:        pc.Toolchain.WorkDir,
		TestFile:       pc.Toolchain.TestFile,
		LogFile:        pc.Toolchain.LogFile,
		ReportFile:     pc.Toolchain.ReportFile,
		Timeout:        pc.Toolchain.Timeout,
		CleanBeforeRun: cfg.CleanBeforeRun(),
	}, logger.Logger)
	if err != nil {
		return err
	}

	runDir := strings.TrimSpace(o.outDir)
	if runDir == "" {
		runDir = cfg.NewRunDir(time.Now())
	} else if runDir, err = filepath.Abs(runDir); err != nil {
		return fmt.Errorf("resolve outdir: %w", err)
	}

	book, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return err
	}
	defer book.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	observers := refine.Observers{ledger.NewRecorder(book, logger.Logger)}
	var program *tea.Program
	if o.useTUI {
		program = tea.NewProgram(tui.NewMonitor(pc.Coverage.Target, journal, cancel), tea.WithContext(ctx))
		observers = append(observers, tui.NewBridge(program.Send))
	}

	controller, err := refine.New(gen, runner, refine.Settings{
		Target:              pc.Coverage.Target,
		CompileRetryBudget:  pc.Coverage.CompileRetryBudget,
		CoverageRetryBudget: pc.Coverage.CoverageRetryBudget,
		RejectInvalid:       pc.Extraction.RejectInvalidTestbench,
		BenignWarnings:      pc.Extraction.BenignWarnings,
		RunDir:              runDir,
		SourceDir:           pc.Toolchain.WorkDir,
		Backend:             pc.Backend.Name,
	},
		refine.WithStateStore(refine.NewRepository(runDir)),
		refine.WithObserver(observers),
		refine.WithJournal(journal),
		refine.WithLogger(logger.Logger),
	)
	if err != nil {
		return err
	}

	var (
		outcome refine.Outcome
		runErr  error
	)
	if program == nil {
		outcome, runErr = controller.Run(ctx, design)
	} else {
		done := make(chan struct{})
		go func() {
			defer close(done)
			outcome, runErr = controller.Run(ctx, design)
			program.Quit()
		}()
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			logger.Warn("monitor exited", "error", err)
		}
		cancel()
		<-done
	}

	printOutcome(cmd.OutOrStdout(), outcome)
	switch {
	case runErr != nil:
		return runErr
	case outcome.TimedOut():
		return exitError{code: exitTimedOut}
	}
	return nil
}

func printOutcome(w io.Writer, outcome refine.Outcome) {
	fmt.Fprintf(w, "Run %s: %s after %d iterations\n", outcome.RunID, outcome.State.Phase, outcome.State.Iteration)
	if outcome.Known {
		fmt.Fprintf(w, "Transition coverage: %.2f%%\n", outcome.Coverage)
	} else {
		fmt.Fprintln(w, "Transition coverage: unknown")
	}
	if outcome.RunDir != "" {
		fmt.Fprintf(w, "Run directory: %s\n", outcome.RunDir)
	}
}
