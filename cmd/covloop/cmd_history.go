package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/ledger"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the iterations of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(nil)
			if err != nil {
				return err
			}
			book, err := ledger.Open(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer book.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := book.Runs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded yet.")
					return nil
				}
				renderRuns(out, runs)
				return nil
			}

			run, err := book.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			iterations, err := book.Iterations(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Run %s (%s, DUT %s, target %.2f%%): %s\n", run.ID, run.Backend, orDash(run.DUT), run.Target, run.Phase)
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}
			renderIterations(out, iterations)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func historyTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers(headers...)
}

func renderRuns(w io.Writer, runs []ledger.Run) {
	t := historyTable("RUN", "STARTED", "BACKEND", "DUT", "PHASE", "ITER", "COVERAGE")
	for _, run := range runs {
		t.Row(
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			run.Backend,
			orDash(run.DUT),
			run.Phase,
			strconv.Itoa(run.Iterations),
			formatCoverage(run.Coverage.Float64, run.Coverage.Valid),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func renderIterations(w io.Writer, iterations []ledger.Iteration) {
	if len(iterations) == 0 {
		fmt.Fprintln(w, "No iterations recorded.")
		return
	}
	t := historyTable("#", "STATUS", "COMPILE", "ROUNDS", "COVERAGE", "UNCOVERED", "NEXT", "TIME")
	for _, it := range iterations {
		status := it.Status
		if it.SimTimedOut {
			status += " (sim timeout)"
		}
		t.Row(
			strconv.Itoa(it.Number),
			status,
			strconv.Itoa(it.CompileRetries),
			strconv.Itoa(it.CoverageRounds),
			formatCoverage(it.Coverage.Float64, it.Coverage.Valid),
			strconv.Itoa(it.Uncovered),
			it.Next,
			it.Duration.Round(time.Millisecond).String(),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func formatCoverage(value float64, known bool) string {
	if !known {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", value)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
