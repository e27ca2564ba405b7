package refine

import (
	"fmt"
	"strings"

	"github.com/kingrea/covloop/internal/extract"
)

// Status labels written into checkpoints and the run journal.
const (
	StatusCompileErrors   = "Error compiling testbench"
	StatusCompileWarnings = "Warnings compiling testbench"
	StatusInvalid         = "Testbench rejected before simulation"
	StatusTargetAchieved  = "Target Achieved"
	StatusIterationsOut   = "Iterations Timeout"
	StatusShortfall       = "Transitions not yet fully covered"
)

const maxCoverageItems = 3

func compileErrorFeedback(errors []string) string {
	return "The testbench failed to compile. Please fix the testbench code. The output of VCS is as follows:\n" +
		strings.Join(errors, "\n")
}

func compileWarningFeedback(warnings []string) string {
	return "The testbench compiled with warnings. Please fix the testbench code. The output of VCS is as follows:\n" +
		strings.Join(warnings, "\n")
}

func invalidTestbenchFeedback(dutName string, missing []string) string {
	if dutName == "" {
		dutName = unknownDUT
	}
	return fmt.Sprintf(`Your prior output did not meet the requirements (missing: %s).
Now output only Verilog code, starting with 'module tb();' as the first token.
No explanations, no markdown fences, no apologies. Ensure the DUT '%s' is instantiated.`,
		strings.Join(missing, ", "), dutName)
}

func coverageFeedback(design string, transitions []string, excerpts []string) string {
	var b strings.Builder
	b.WriteString("The current testbench doesn't cover all the transitions. ")
	b.WriteString("Write a testbench that covers every possible transition, using the RTL code provided as reference. ")
	b.WriteString("Always improve the testbench from the previous iteration with additional test cases; do not delete any existing test cases. ")
	b.WriteString("Apply reset again where that is needed to reach a transition. This is the RTL code:\n")
	b.WriteString(design)
	b.WriteString("\n\nThis is the list of transitions not covered yet:\n")
	if len(transitions) == 0 {
		b.WriteString("(the coverage report listed no transitions)")
	} else {
		b.WriteString(strings.Join(transitions, "\n"))
	}
	if len(excerpts) > 0 {
		b.WriteString("\n\nThese regions are marked TO_BE_COVERED and have not been hit:\n")
		b.WriteString(strings.Join(excerpts, "\n\n"))
	}
	return b.String()
}

// coverageExcerpts renders up to maxCoverageItems uncovered regions. Regions
// that cannot be read are skipped.
func coverageExcerpts(items []extract.CoverageItem, baseDir string) []string {
	var out []string
	for _, item := range items {
		if len(out) == maxCoverageItems {
			break
		}
		excerpt, err := extract.Excerpt(item, baseDir, 20)
		if err != nil {
			continue
		}
		out = append(out, excerpt)
	}
	return out
}
