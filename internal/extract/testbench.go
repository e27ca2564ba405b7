package extract

import (
	"regexp"
	"strings"
)

// Markers a generated testbench must carry.
const (
	DumpFileCall = "$fsdbDumpfile"
	DumpVarsCall = "$fsdbDumpvars"
	FinishCall   = "$finish"
)

var tbModulePattern = regexp.MustCompile(`\bmodule\s+tb\s*\(`)

// TestbenchCheck records which acceptance conditions a candidate met.
type TestbenchCheck struct {
	TopModule    bool
	DumpFile     bool
	DumpVars     bool
	Finish       bool
	Instantiated bool
}

// OK reports whether every condition holds.
func (c TestbenchCheck) OK() bool {
	return c.TopModule && c.DumpFile && c.DumpVars && c.Finish && c.Instantiated
}

// Missing names the conditions that failed.
func (c TestbenchCheck) Missing() []string {
	var missing []string
	if !c.TopModule {
		missing = append(missing, "module tb(")
	}
	if !c.DumpFile {
		missing = append(missing, DumpFileCall)
	}
	if !c.DumpVars {
		missing = append(missing, DumpVarsCall)
	}
	if !c.Finish {
		missing = append(missing, FinishCall)
	}
	if !c.Instantiated {
		missing = append(missing, "DUT instance")
	}
	return missing
}

// CheckTestbench evaluates code against the acceptance conditions. When
// dutName is empty the instantiation check is treated as satisfied.
func CheckTestbench(code, dutName string) TestbenchCheck {
	check := TestbenchCheck{
		TopModule:    tbModulePattern.MatchString(code),
		DumpFile:     strings.Contains(code, DumpFileCall),
		DumpVars:     strings.Contains(code, DumpVarsCall),
		Finish:       strings.Contains(code, FinishCall),
		Instantiated: true,
	}
	if dutName != "" {
		inst := regexp.MustCompile(`\b` + regexp.QuoteMeta(dutName) + `\b\s*(#\s*\(|[A-Za-z_]\w*\s*\()`)
		check.Instantiated = inst.MatchString(code)
	}
	return check
}

// LooksLikeValidTestbench reports whether code passes every acceptance check.
func LooksLikeValidTestbench(code, dutName string) bool {
	if code == "" {
		return false
	}
	return CheckTestbench(code, dutName).OK()
}
