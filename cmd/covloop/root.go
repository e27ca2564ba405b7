package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/config"
)

type rootOptions struct {
	projectDir string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "covloop",
		Short: "Closed-loop testbench generation driven by coverage feedback",
		Long: `covloop asks a language model for a Verilog testbench, compiles and ` +
			`simulates it with your toolchain, and feeds compile errors and ` +
			`coverage shortfalls back into the conversation until the ` +
			`transition coverage target is met or a retry budget runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve()
		},
	}
	root.PersistentFlags().StringVar(&opts.projectDir, "project", "", "project directory holding .covloop (defaults to cwd)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before running, relative to the project directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newInitCmd(opts),
		newRunCmd(opts),
		newHistoryCmd(opts),
		newStatusCmd(opts),
		newInspectCmd(opts),
		newTranscriptCmd(),
	)
	return root
}

// resolve fixes the project directory and loads the dotenv file. Variables
// already present in the environment win over the file.
func (o *rootOptions) resolve() error {
	project := strings.TrimSpace(o.projectDir)
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		project = wd
	}
	abs, err := filepath.Abs(project)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	o.projectDir = abs

	if env := strings.TrimSpace(o.envFile); env != "" {
		if !filepath.IsAbs(env) {
			env = filepath.Join(abs, env)
		}
		if err := godotenv.Load(env); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", env, err)
		}
	}
	return nil
}

// loadConfig reads the project config and applies --set overrides.
func (o *rootOptions) loadConfig(overrides keyValueFlag) (*config.Config, error) {
	cfg, err := config.Load(o.projectDir)
	if err != nil {
		return nil, err
	}
	for _, key := range overrides.Keys() {
		if err := cfg.Set(key, overrides[key]); err != nil {
			return nil, err
		}
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}
