// Package toolchain drives the external compile-and-simulate command.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ErrLaunch wraps failures to start the toolchain process at all.
var ErrLaunch = errors.New("toolchain: launch failed")

// Default file layout of the toolchain working directory.
const (
	DefaultCommand    = "./run.sh"
	DefaultTestFile   = "tb.v"
	DefaultLogFile    = "vcs.log"
	DefaultReportFile = "urgReport/modinfo.txt"
	DefaultTimeout    = 100 * time.Second
)

// Config describes where the toolchain lives and what it produces. Relative
// file paths resolve against WorkDir.
type Config struct {
	Command        []string
	WorkDir        string
	TestFile       string
	LogFile        string
	ReportFile     string
	Timeout        time.Duration
	CleanBeforeRun bool
}

// Result reports where the outputs were left.
type Result struct {
	LogPath    string
	ReportPath string
	// TimedOut is set when the process was killed at the deadline. The
	// outputs may be partial or missing.
	TimedOut bool
	ExitCode int
	Duration time.Duration
}

// Runner writes candidate tests and launches the toolchain.
type Runner struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and fills in defaults.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if len(cfg.Command) == 0 {
		cfg.Command = strings.Fields(DefaultCommand)
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("toolchain: work dir is required")
	}
	if cfg.TestFile == "" {
		cfg.TestFile = DefaultTestFile
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}
	if cfg.ReportFile == "" {
		cfg.ReportFile = DefaultReportFile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// TestPath is the absolute-or-workdir-relative path the toolchain reads.
func (r *Runner) TestPath() string { return r.resolve(r.cfg.TestFile) }

// LogPath is where the toolchain writes its compile and simulation log.
func (r *Runner) LogPath() string { return r.resolve(r.cfg.LogFile) }

// ReportPath is where the toolchain writes its coverage report.
func (r *Runner) ReportPath() string { return r.resolve(r.cfg.ReportFile) }

// WriteTest replaces the toolchain's input file with code.
func (r *Runner) WriteTest(code string) (string, error) {
	path := r.TestPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("toolchain: create test dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("toolchain: write test file: %w", err)
	}
	return path, nil
}

// Run launches the toolchain with its standard streams detached and waits
// up to the configured timeout. A non-zero exit is not an error: the log is
// the source of truth. Only a failure to start returns an error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	result := Result{LogPath: r.LogPath(), ReportPath: r.ReportPath()}
	if r.cfg.CleanBeforeRun {
		r.removeStale(result.LogPath)
		r.removeStale(result.ReportPath)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.cfg.WorkDir
	configureProcess(cmd)
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	r.logger.Info("launching toolchain", "command", strings.Join(r.cfg.Command, " "), "dir", r.cfg.WorkDir, "timeout", r.cfg.Timeout)
	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrLaunch, r.cfg.Command[0], err)
	}
	err := cmd.Wait()
	result.Duration = time.Since(start)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("toolchain timed out; evaluating partial output", "timeout", r.cfg.Timeout)
	case ctx.Err() != nil:
		return result, ctx.Err()
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Info("toolchain exited non-zero", "exit_code", result.ExitCode)
		} else {
			r.logger.Warn("toolchain wait failed", "error", err)
		}
	}
	r.logger.Debug("toolchain finished", "duration", result.Duration, "exit_code", result.ExitCode)
	return result, nil
}

func (r *Runner) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.cfg.WorkDir, path)
}

func (r *Runner) removeStale(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("could not remove stale toolchain output", "path", path, "error", err)
	}
}
