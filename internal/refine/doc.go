// Package refine runs the closed generate, simulate, evaluate loop that
// drives a model toward a testbench meeting a coverage target.
//
// The loop is an explicit state machine over Phase with two retry counters.
// Compile failures and coverage shortfalls are resolved inside the loop by
// synthesizing feedback for the model; only backend, toolchain launch and
// extraction failures end a run with an error.
package refine
