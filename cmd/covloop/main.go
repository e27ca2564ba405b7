// cmd/covloop/main.go
//
// Entry point for the covloop CLI. `covloop run` drives one design through
// the generate, simulate and evaluate loop; the other commands inspect what
// previous runs left behind in .covloop/.

package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for `covloop run`.
const (
	exitSucceeded = 0
	exitFatal     = 1
	exitTimedOut  = 2
)

// exitError carries a process exit code out of a command without printing
// anything beyond what the command already wrote.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitSucceeded
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitFatal
}
