package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/covloop/internal/config"
	"github.com/kingrea/covloop/internal/extract"
)

type inspectOptions struct {
	logPath       string
	reportPath    string
	testbenchPath string
	dutPath       string
	sourceDir     string
	excerpts      int
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run the extraction checks against existing files",
		Long: `Parses a compile log, a coverage report, a testbench and a design ` +
			`file the same way the refinement loop does, without calling a model ` +
			`or launching the toolchain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.logPath == "" && opts.reportPath == "" && opts.testbenchPath == "" && opts.dutPath == "" {
				return fmt.Errorf("nothing to inspect: pass --log, --report, --testbench or --dut")
			}
			benign := extract.DefaultBenignWarnings
			if cfg, err := root.loadConfig(nil); err == nil {
				benign = cfg.Project.Extraction.BenignWarnings
			} else if !errors.Is(err, config.ErrNotInitialized) {
				return err
			}
			return opts.run(cmd.OutOrStdout(), benign)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.logPath, "log", "", "compile/simulation log to scan for errors and warnings")
	f.StringVar(&opts.reportPath, "report", "", "coverage report to summarize")
	f.StringVar(&opts.testbenchPath, "testbench", "", "testbench file (or model reply) to check")
	f.StringVar(&opts.dutPath, "dut", "", "RTL file declaring the design under test")
	f.StringVar(&opts.sourceDir, "source-dir", "", "directory for resolving uncovered source excerpts (defaults to the report's directory)")
	f.IntVar(&opts.excerpts, "excerpts", 3, "number of uncovered source excerpts to print")
	return cmd
}

func (o *inspectOptions) run(w io.Writer, benign []string) error {
	if o.logPath != "" {
		diags, err := extract.CompileDiagnosticsFile(o.logPath, benign)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "== Log %s: %d errors, %d warnings\n", o.logPath, len(diags.Errors), len(diags.Warnings))
		for _, e := range diags.Errors {
			fmt.Fprintln(w, strings.TrimRight(e, "\n"))
		}
		for _, warn := range diags.Warnings {
			fmt.Fprintln(w, strings.TrimRight(warn, "\n"))
		}
	}

	if o.reportPath != "" {
		text, err := extract.ReadOptional(o.reportPath)
		if err != nil {
			return err
		}
		summary := extract.SummarizeCoverage(text)
		fmt.Fprintf(w, "== Coverage %s: %s\n", o.reportPath, summary)
		for _, line := range summary.Uncovered {
			fmt.Fprintf(w, "  %s\n", line)
		}
		o.printExcerpts(w, extract.CoverageItems(text))
	}

	var dut extract.DUT
	if o.dutPath != "" {
		data, err := os.ReadFile(o.dutPath)
		if err != nil {
			return fmt.Errorf("read dut: %w", err)
		}
		var ok bool
		if dut, ok = extract.ParseDUT(string(data)); ok {
			fmt.Fprintf(w, "== DUT %s: module %s\n%s\n", o.dutPath, dut.Name, dut.Header)
		} else {
			fmt.Fprintf(w, "== DUT %s: no module declaration found\n", o.dutPath)
		}
	}

	if o.testbenchPath != "" {
		data, err := os.ReadFile(o.testbenchPath)
		if err != nil {
			return fmt.Errorf("read testbench: %w", err)
		}
		code := string(data)
		if blocks := extract.CodeBlocks(code); len(blocks) > 0 {
			code = extract.JoinBlocks(blocks)
		}
		check := extract.CheckTestbench(code, dut.Name)
		if check.OK() {
			fmt.Fprintf(w, "== Testbench %s: ok\n", o.testbenchPath)
		} else {
			fmt.Fprintf(w, "== Testbench %s: missing %s\n", o.testbenchPath, strings.Join(check.Missing(), ", "))
		}
	}
	return nil
}

func (o *inspectOptions) printExcerpts(w io.Writer, items []extract.CoverageItem) {
	if len(items) == 0 || o.excerpts <= 0 {
		return
	}
	base := o.sourceDir
	if base == "" {
		base = filepath.Dir(o.reportPath)
	}
	fmt.Fprintf(w, "== %d uncovered items\n", len(items))
	for i, item := range items {
		if i == o.excerpts {
			break
		}
		excerpt, err := extract.Excerpt(item, base, 20)
		if err != nil {
			fmt.Fprintf(w, "%s:%d-%d %s (%v)\n", item.File, item.LineStart, item.LineEnd, item.Description, err)
			continue
		}
		fmt.Fprintln(w, excerpt)
	}
}
