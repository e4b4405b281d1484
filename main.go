package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/layoutstats/internal/reconcile"
)

// Process exit codes. Orphans get their own code so a scheduler can tell
// "definitions and store disagree" apart from an ordinary failure.
const (
	exitFailure = 1
	exitOrphans = 2
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, reconcile.ErrOrphans) {
		return exitOrphans
	}

	return exitFailure
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}
