package refine

import "time"

// IterationResult records one pass through the loop.
type IterationResult struct {
	Iteration      int
	CompileRetries int
	CoverageRounds int
	Compiled       bool
	HadWarnings    bool
	// ValidTestbench is the acceptance verdict on the extracted candidate.
	ValidTestbench bool
	Coverage       float64
	CoverageKnown  bool
	Uncovered      []string
	Errors         []string
	Warnings       []string
	SimTimedOut    bool
	Status         string
	Next           Phase
	Duration       time.Duration
}

// Outcome summarizes a finished run.
type Outcome struct {
	RunID      string
	State      RunState
	Coverage   float64
	Known      bool
	Iterations []IterationResult
	RunDir     string
}

// Succeeded reports whether the target was reached.
func (o Outcome) Succeeded() bool { return o.State.Succeeded() }

// TimedOut reports whether a retry budget ran out.
func (o Outcome) TimedOut() bool { return o.State.TimedOut() }

// RunInfo describes a run when it starts.
type RunInfo struct {
	RunID   string
	Backend string
	DUT     string
	Target  float64
	RunDir  string
	Started time.Time
}

// Observer receives progress callbacks on the controller's goroutine.
// Implementations must not block for long.
type Observer interface {
	RunStarted(RunInfo)
	PhaseChanged(RunState)
	IterationFinished(IterationResult)
	RunFinished(Outcome, error)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo)                {}
func (NopObserver) PhaseChanged(RunState)             {}
func (NopObserver) IterationFinished(IterationResult) {}
func (NopObserver) RunFinished(Outcome, error)        {}

// Observers fans callbacks out in order.
type Observers []Observer

func (obs Observers) RunStarted(info RunInfo) {
	for _, o := range obs {
		o.RunStarted(info)
	}
}

func (obs Observers) PhaseChanged(state RunState) {
	for _, o := range obs {
		o.PhaseChanged(state)
	}
}

func (obs Observers) IterationFinished(result IterationResult) {
	for _, o := range obs {
		o.IterationFinished(result)
	}
}

func (obs Observers) RunFinished(outcome Outcome, err error) {
	for _, o := range obs {
		o.RunFinished(outcome, err)
	}
}
