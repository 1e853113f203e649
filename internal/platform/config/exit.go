package config

import (
	"fmt"
	"os"
)

// Exitf prints a formatted message to stderr and terminates the process
// with status 1. Auxiliary gauntlet commands use it for fatal argument
// and IO errors instead of log.Fatalf, which the service mains reserve
// for run-loop failures.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
