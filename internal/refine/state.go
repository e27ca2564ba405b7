package refine

import "time"

// Phase enumerates the controller's states.
type Phase string

const (
	PhaseAwaitingGeneration Phase = "awaiting-generation"
	PhaseAwaitingSimulation Phase = "awaiting-simulation"
	PhaseEvaluating         Phase = "evaluating"
	PhaseContinue           Phase = "continue"
	PhaseSucceeded          Phase = "succeeded"
	PhaseTimedOut           Phase = "timed-out"
)

// Terminal reports whether no further iterations follow p.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseTimedOut
}

// RunState is the controller's mutable state. Success and budget exhaustion
// are both read off Phase, so a run cannot be both.
type RunState struct {
	Phase     Phase `json:"phase"`
	Iteration int   `json:"iteration"`
	// CompileRetries counts consecutive compile attempts that ended in errors,
	// warnings or a rejected candidate. It resets on every clean compile.
	CompileRetries int `json:"compile_retries"`
	// CoverageRounds counts feedback rounds sent for coverage shortfalls.
	CoverageRounds int `json:"coverage_rounds"`
}

// Succeeded reports whether the run reached the coverage target.
func (s RunState) Succeeded() bool { return s.Phase == PhaseSucceeded }

// TimedOut reports whether a retry budget was exhausted.
func (s RunState) TimedOut() bool { return s.Phase == PhaseTimedOut }

// Snapshot is the persisted view of a run, rewritten after every iteration.
type Snapshot struct {
	RunID        string    `json:"run_id"`
	Backend      string    `json:"backend,omitempty"`
	DUT          string    `json:"dut,omitempty"`
	Target       float64   `json:"target"`
	State        RunState  `json:"state"`
	LastStatus   string    `json:"last_status,omitempty"`
	LastCoverage *float64  `json:"last_coverage,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Error        string    `json:"error,omitempty"`
}
