package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/logbook"
	"github.com/kingrea/covloop/internal/refine"
)

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		runDir string
		lines  int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run's state and the tail of the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			dir := runDir
			if dir == "" {
				dir, err = latestRunDir(cfg.RunsDir())
				if err != nil {
					return err
				}
			}
			if dir == "" {
				fmt.Fprintln(out, "No runs yet.")
			} else {
				snap, err := refine.NewRepository(dir).Load()
				switch {
				case errors.Is(err, refine.ErrStateNotFound):
					fmt.Fprintf(out, "No state recorded in %s\n", dir)
				case err != nil:
					return err
				default:
					printSnapshot(out, dir, snap)
				}
			}

			journal, err := logbook.New(filepath.Join(cfg.LogsDir(), logbook.FileName))
			if err != nil {
				return err
			}
			tail, total := journal.Tail(lines)
			fmt.Fprintf(out, "\nJournal (%d of %d entries):\n", len(tail), total)
			for _, line := range tail {
				fmt.Fprintf(out, "  %s\n", line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", "", "run directory to inspect (defaults to the newest under .covloop/runs)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "number of journal lines to show")
	return cmd
}

// latestRunDir returns the newest run directory, or "" when there is none.
// Run directories are named after their start time, so names sort
// chronologically.
func latestRunDir(runsDir string) (string, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("list runs: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(runsDir, names[len(names)-1]), nil
}

func printSnapshot(w io.Writer, dir string, snap refine.Snapshot) {
	fmt.Fprintf(w, "Run %s in %s\n", snap.RunID, dir)
	fmt.Fprintf(w, "  backend:    %s\n", orDash(snap.Backend))
	fmt.Fprintf(w, "  dut:        %s\n", orDash(snap.DUT))
	fmt.Fprintf(w, "  phase:      %s\n", snap.State.Phase)
	fmt.Fprintf(w, "  iteration:  %d (compile retries %d, coverage rounds %d)\n",
		snap.State.Iteration, snap.State.CompileRetries, snap.State.CoverageRounds)
	if snap.LastCoverage != nil {
		fmt.Fprintf(w, "  coverage:   %.2f%% (target %.2f%%)\n", *snap.LastCoverage, snap.Target)
	} else {
		fmt.Fprintf(w, "  coverage:   unknown (target %.2f%%)\n", snap.Target)
	}
	if snap.LastStatus != "" {
		fmt.Fprintf(w, "  last:       %s\n", snap.LastStatus)
	}
	fmt.Fprintf(w, "  updated:    %s\n", snap.UpdatedAt.Local().Format(time.DateTime))
	if snap.Error != "" {
		fmt.Fprintf(w, "  error:      %s\n", snap.Error)
	}
}
