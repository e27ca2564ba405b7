// internal/config/config.go
//
// This package handles configuration and the .covloop directory structure.
// Every project that runs covloop gets a .covloop/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".covloop"

	defaultBackend             = "openai"
	defaultTarget              = 90.0
	defaultCoverageRetryBudget = 10
	defaultCompileRetryBudget  = 5
	defaultCommand             = "./run.sh"
	defaultTestFile            = "tb.v"
	defaultLogFile             = "vcs.log"
	defaultReportFile          = "urgReport/modinfo.txt"
	defaultTimeout             = 100 * time.Second
)

// ErrNotInitialized is returned when a project has no .covloop directory.
var ErrNotInitialized = errors.New("config: project not initialized (run `covloop init`)")

const defaultProjectConfigYAML = `# covloop project configuration
version: 1

# Model backend. name is one of: openai, anthropic, ollama (aliases: chatgpt4,
# chatgpt3p5, claude, codellama, local). API keys come from the environment
# (OPENAI_API_KEY, ANTHROPIC_API_KEY) or /run/secrets.
backend:
  name: openai
  # model: gpt-4o
  # base_url: http://localhost:11434
  # temperature: 0.2
  # max_tokens: 4096

coverage:
  target: 90
  coverage_retry_budget: 10
  compile_retry_budget: 5

# The toolchain command compiles test_file, simulates it, and leaves a log and
# a coverage report behind. Relative file paths resolve against work_dir.
toolchain:
  command: ./run.sh
  work_dir: .
  test_file: tb.v
  log_file: vcs.log
  report_file: urgReport/modinfo.txt
  timeout: 100s
  clean_before_run: true

extraction:
  benign_warnings:
    - LCA_FEATURES_ENABLED
  reject_invalid_testbench: false
`

// BackendConfig selects and tunes the model backend.
type BackendConfig struct {
	Name        string   `yaml:"name"`
	Model       string   `yaml:"model,omitempty"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Temperature *float32 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// CoverageConfig holds the target and the two retry budgets.
type CoverageConfig struct {
	Target              float64 `yaml:"target"`
	CoverageRetryBudget int     `yaml:"coverage_retry_budget"`
	CompileRetryBudget  int     `yaml:"compile_retry_budget"`
}

// ToolchainConfig describes the external compile-and-simulate step.
type ToolchainConfig struct {
	Command        string        `yaml:"command"`
	WorkDir        string        `yaml:"work_dir"`
	TestFile       string        `yaml:"test_file"`
	LogFile        string        `yaml:"log_file"`
	ReportFile     string        `yaml:"report_file"`
	Timeout        time.Duration `yaml:"timeout"`
	CleanBeforeRun *bool         `yaml:"clean_before_run,omitempty"`
}

// ExtractionConfig tunes log and candidate checks.
type ExtractionConfig struct {
	BenignWarnings         []string `yaml:"benign_warnings"`
	RejectInvalidTestbench bool     `yaml:"reject_invalid_testbench"`
}

// ProjectConfig models .covloop/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	Backend    BackendConfig    `yaml:"backend"`
	Coverage   CoverageConfig   `yaml:"coverage"`
	Toolchain  ToolchainConfig  `yaml:"toolchain"`
	Extraction ExtractionConfig `yaml:"extraction"`
}

// Config holds the runtime configuration for covloop.
type Config struct {
	// ProjectDir is the directory covloop was run from
	ProjectDir string

	// StateRoot is ProjectDir/.covloop
	StateRoot string

	Project ProjectConfig
}

// InitDir creates the .covloop directory structure in the given project
// directory and writes a default config.yaml when none exists.
//
// Structure created:
// .covloop/
// ├── config.yaml
// ├── logs/    <- covloop.log and journey.log
// ├── state/   <- ledger.db
// └── runs/    <- one directory per run (checkpoints, transcript, state.json)
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
		filepath.Join(root, "runs"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// Load reads .covloop/config.yaml from projectDir. A missing config file
// yields defaults; a missing .covloop directory is ErrNotInitialized.
func Load(projectDir string) (*Config, error) {
	root := filepath.Join(projectDir, Dir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, ErrNotInitialized
	}
	cfg := &Config{
		ProjectDir: projectDir,
		StateRoot:  root,
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateRoot, "logs")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.StateRoot, "state")
}

// RunsDir returns the directory that holds per-run output directories
func (c *Config) RunsDir() string {
	return filepath.Join(c.StateRoot, "runs")
}

// LedgerPath returns the SQLite run ledger location
func (c *Config) LedgerPath() string {
	return filepath.Join(c.StateDir(), "ledger.db")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateRoot, "config.yaml")
}

// NewRunDir returns an unused run directory under RunsDir, named after the
// start time with microsecond precision. Names sort chronologically; a
// numeric suffix is added if the name is already taken.
func (c *Config) NewRunDir(now time.Time) string {
	base := filepath.Join(c.RunsDir(), now.UTC().Format("20060102-150405.000000"))
	dir := base
	for n := 2; ; n++ {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			return dir
		}
		dir = fmt.Sprintf("%s-%d", base, n)
	}
}

// ToolchainCommand splits the configured command into argv.
func (c *Config) ToolchainCommand() []string {
	return strings.Fields(c.Project.Toolchain.Command)
}

// CleanBeforeRun reports whether stale toolchain outputs are removed before
// each launch. Defaults to true.
func (c *Config) CleanBeforeRun() bool {
	if c.Project.Toolchain.CleanBeforeRun == nil {
		return true
	}
	return *c.Project.Toolchain.CleanBeforeRun
}

// Set overrides a single dotted key, for example "coverage.target". Call
// Finalize after the last override.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	p := &c.Project
	var err error
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "backend.name":
		p.Backend.Name = value
	case "backend.model":
		p.Backend.Model = value
	case "backend.base_url":
		p.Backend.BaseURL = value
	case "backend.temperature":
		var f float64
		if f, err = strconv.ParseFloat(value, 32); err == nil {
			t := float32(f)
			p.Backend.Temperature = &t
		}
	case "backend.max_tokens":
		p.Backend.MaxTokens, err = strconv.Atoi(value)
	case "coverage.target":
		p.Coverage.Target, err = strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
	case "coverage.coverage_retry_budget":
		p.Coverage.CoverageRetryBudget, err = strconv.Atoi(value)
	case "coverage.compile_retry_budget":
		p.Coverage.CompileRetryBudget, err = strconv.Atoi(value)
	case "toolchain.command":
		p.Toolchain.Command = value
	case "toolchain.work_dir":
		p.Toolchain.WorkDir = value
	case "toolchain.test_file":
		p.Toolchain.TestFile = value
	case "toolchain.log_file":
		p.Toolchain.LogFile = value
	case "toolchain.report_file":
		p.Toolchain.ReportFile = value
	case "toolchain.timeout":
		p.Toolchain.Timeout, err = time.ParseDuration(value)
	case "toolchain.clean_before_run":
		var b bool
		if b, err = strconv.ParseBool(value); err == nil {
			p.Toolchain.CleanBeforeRun = &b
		}
	case "extraction.benign_warnings":
		p.Extraction.BenignWarnings = splitList(value)
	case "extraction.reject_invalid_testbench":
		p.Extraction.RejectInvalidTestbench, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	return nil
}

// Finalize applies defaults, normalizes paths and validates the result.
func (c *Config) Finalize() error {
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Save writes the project config back to .covloop/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	if err := c.Finalize(); err != nil {
		return err
	}
	if err := os.MkdirAll(c.StateRoot, 0o755); err != nil {
		return fmt.Errorf("config: ensure %s dir: %w", Dir, err)
	}
	onDisk := c.Project
	onDisk.Toolchain.WorkDir = relativePath(c.ProjectDir, onDisk.Toolchain.WorkDir)
	data, err := yaml.Marshal(onDisk)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.Finalize()
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Project = parsed
	return c.Finalize()
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Backend.Name) == "" {
		pc.Backend.Name = defaultBackend
	}
	if pc.Coverage.Target == 0 {
		pc.Coverage.Target = defaultTarget
	}
	if pc.Coverage.CoverageRetryBudget == 0 {
		pc.Coverage.CoverageRetryBudget = defaultCoverageRetryBudget
	}
	if pc.Coverage.CompileRetryBudget == 0 {
		pc.Coverage.CompileRetryBudget = defaultCompileRetryBudget
	}
	if strings.TrimSpace(pc.Toolchain.Command) == "" {
		pc.Toolchain.Command = defaultCommand
	}
	if pc.Toolchain.TestFile == "" {
		pc.Toolchain.TestFile = defaultTestFile
	}
	if pc.Toolchain.LogFile == "" {
		pc.Toolchain.LogFile = defaultLogFile
	}
	if pc.Toolchain.ReportFile == "" {
		pc.Toolchain.ReportFile = defaultReportFile
	}
	if pc.Toolchain.Timeout == 0 {
		pc.Toolchain.Timeout = defaultTimeout
	}
	if pc.Extraction.BenignWarnings == nil {
		pc.Extraction.BenignWarnings = []string{"LCA_FEATURES_ENABLED"}
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Backend.Name = strings.ToLower(strings.TrimSpace(pc.Backend.Name))
	pc.Backend.Model = strings.TrimSpace(pc.Backend.Model)
	pc.Backend.BaseURL = strings.TrimSpace(pc.Backend.BaseURL)
	pc.Toolchain.Command = strings.TrimSpace(pc.Toolchain.Command)
	workDir := pc.Toolchain.WorkDir
	if strings.TrimSpace(workDir) == "" {
		workDir = "."
	}
	pc.Toolchain.WorkDir = resolvePath(base, workDir)
	pc.Toolchain.TestFile = strings.TrimSpace(pc.Toolchain.TestFile)
	pc.Toolchain.LogFile = strings.TrimSpace(pc.Toolchain.LogFile)
	pc.Toolchain.ReportFile = strings.TrimSpace(pc.Toolchain.ReportFile)
	var warnings []string
	for _, w := range pc.Extraction.BenignWarnings {
		if w = strings.TrimSpace(w); w != "" && !contains(warnings, w) {
			warnings = append(warnings, w)
		}
	}
	if warnings == nil {
		warnings = []string{}
	}
	pc.Extraction.BenignWarnings = warnings
}

func (pc *ProjectConfig) validate() error {
	switch {
	case pc.Version < 1:
		return fmt.Errorf("config version must be >= 1")
	case pc.Backend.Name == "":
		return fmt.Errorf("backend.name is required")
	case pc.Backend.Temperature != nil && (*pc.Backend.Temperature < 0 || *pc.Backend.Temperature > 2):
		return fmt.Errorf("backend.temperature must be within [0, 2]")
	case pc.Backend.MaxTokens < 0:
		return fmt.Errorf("backend.max_tokens must not be negative")
	case pc.Coverage.Target <= 0 || pc.Coverage.Target > 100:
		return fmt.Errorf("coverage.target must be within (0, 100]")
	case pc.Coverage.CompileRetryBudget < 1:
		return fmt.Errorf("coverage.compile_retry_budget must be >= 1")
	case pc.Coverage.CompileRetryBudget >= pc.Coverage.CoverageRetryBudget:
		return fmt.Errorf("coverage.compile_retry_budget (%d) must be smaller than coverage.coverage_retry_budget (%d)",
			pc.Coverage.CompileRetryBudget, pc.Coverage.CoverageRetryBudget)
	case pc.Toolchain.Command == "":
		return fmt.Errorf("toolchain.command is required")
	case pc.Toolchain.Timeout <= 0:
		return fmt.Errorf("toolchain.timeout must be positive")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

// relativePath expresses target relative to base when it lies inside base,
// so a saved config keeps working after the project moves.
func relativePath(base, target string) string {
	if base == "" || target == "" || !filepath.IsAbs(target) {
		return target
	}
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return target
	}
	return rel
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
