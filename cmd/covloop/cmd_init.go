package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/config"
)

func newInitCmd(opts *rootOptions) *cobra.Command {
	sets := keyValueFlag{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .covloop/ with a default config.yaml",
		Long: `Creates the .covloop directory (logs, state, runs) in the project and ` +
			`writes a default config.yaml when none exists. --set overrides are ` +
			`validated and saved into the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitDir(opts.projectDir); err != nil {
				return err
			}
			cfg, err := opts.loadConfig(sets)
			if err != nil {
				return err
			}
			if len(sets) > 0 {
				if err := cfg.Save(); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", cfg.ProjectConfigPath())
			return nil
		},
	}
	cmd.Flags().Var(&sets, "set", "config override saved to config.yaml (key=value, repeatable)")
	return cmd
}
