package extract

import (
	"regexp"
	"strings"
)

// DefaultBenignWarnings lists warning identifiers that the toolchain emits on
// every run and that say nothing about the testbench.
var DefaultBenignWarnings = []string{"LCA_FEATURES_ENABLED"}

var (
	errorSpanPattern   = regexp.MustCompile(`(?sm)Error-\[.*?(?:^\s*?\n|\z)`)
	warningSpanPattern = regexp.MustCompile(`(?sm)Warning-\[.*?(?:^\s*?\n|\z)`)
)

// Diagnostics holds the error and warning spans found in a compiler log, in
// the order they appear.
type Diagnostics struct {
	Errors   []string
	Warnings []string
}

// Clean reports whether the log carried neither errors nor non-benign warnings.
func (d Diagnostics) Clean() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

// WarningsOnly reports the "compiled, but not cleanly" condition.
func (d Diagnostics) WarningsOnly() bool {
	return len(d.Errors) == 0 && len(d.Warnings) > 0
}

// CompileDiagnostics returns every "Error-[" span and every "Warning-[" span
// of logText. A span runs from the marker through the next blank line, or
// to the end of the text when the log stops mid-diagnostic.
// Warnings mentioning any of the benign identifiers are dropped.
func CompileDiagnostics(logText string, benign []string) Diagnostics {
	diag := Diagnostics{
		Errors: errorSpanPattern.FindAllString(logText, -1),
	}
	for _, warning := range warningSpanPattern.FindAllString(logText, -1) {
		if mentionsAny(warning, benign) {
			continue
		}
		diag.Warnings = append(diag.Warnings, warning)
	}
	return diag
}

// CompileDiagnosticsFile reads path and runs CompileDiagnostics on it. A
// missing log (for example after a simulation timeout) yields no findings.
func CompileDiagnosticsFile(path string, benign []string) (Diagnostics, error) {
	text, err := ReadOptional(path)
	if err != nil {
		return Diagnostics{}, err
	}
	return CompileDiagnostics(text, benign), nil
}

func mentionsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if needle = strings.TrimSpace(needle); needle != "" && strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
