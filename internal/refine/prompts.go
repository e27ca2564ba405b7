package refine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/covloop/internal/extract"
)

// SystemPrompt is the task contract seeded as the first message of every run.
const SystemPrompt = `You are an expert in design verification for Verilog code.
Given a Verilog RTL module, write a testbench that simulates it and exercises every possible state transition.
Follow these rules in every response:
1. Do not add any timescale directive.
2. The testbench starts with: module tb();
3. Put $fsdbDumpfile and $fsdbDumpvars at the start of the first initial block.
4. Apply input sequences through a task named apply_input().
5. Check the RTL for the reset polarity and drive reset accordingly.
6. Instantiate the design under test with its exact module name and ports.
7. End the test patterns with $finish.`

const designTemplate = `Create a Verilog testbench for the design under test below.
Output only Verilog code starting with module tb();

DUT name: %s
Port header (from the module declaration):
%s

Full RTL from %s:
<RTL>
%s
</RTL>`

const unknownDUT = "<UNKNOWN_DUT>"

// Design is the design under test as presented to the model.
type Design struct {
	// Prompt is the user message that opens the conversation and is restated
	// in coverage feedback.
	Prompt string
	// DUTName is empty when no module declaration could be found.
	DUTName string
}

// DesignFromPrompt wraps a free-form design description.
func DesignFromPrompt(prompt string) (Design, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Design{}, fmt.Errorf("refine: design prompt is empty")
	}
	design := Design{Prompt: prompt}
	if dut, ok := extract.ParseDUT(prompt); ok {
		design.DUTName = dut.Name
	}
	return design, nil
}

// DesignFromRTL renders RTL source into the opening user message.
func DesignFromRTL(rtl, source string) Design {
	name, header := unknownDUT, "(could not parse the module declaration; infer the ports from the RTL)"
	design := Design{}
	if dut, ok := extract.ParseDUT(rtl); ok {
		name, header = dut.Name, dut.Header
		design.DUTName = dut.Name
	}
	design.Prompt = fmt.Sprintf(designTemplate, name, header, source, rtl)
	return design
}

// DesignFromPath reads a single RTL file, or every .v and .sv file of a
// directory in name order.
func DesignFromPath(path string) (Design, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Design{}, fmt.Errorf("refine: design: %w", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return Design{}, fmt.Errorf("refine: design: %w", err)
		}
		return DesignFromRTL(string(data), filepath.Base(path)), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return Design{}, fmt.Errorf("refine: design dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".v" && ext != ".sv") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return Design{}, fmt.Errorf("refine: design dir %s has no .v or .sv files", path)
	}
	sort.Strings(names)
	var rtl strings.Builder
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return Design{}, fmt.Errorf("refine: design: %w", err)
		}
		if i > 0 {
			rtl.WriteString("\n")
		}
		rtl.WriteString("// ---- " + name + " ----\n")
		rtl.Write(data)
	}
	return DesignFromRTL(rtl.String(), filepath.Base(filepath.Clean(path))), nil
}
