// Package debug provides env-gated diagnostic output. Set WAGGLE_DEBUG to
// any non-empty value to enable tracing to stderr.
package debug

import (
	"fmt"
	"os"
)

var (
	enabled     = os.Getenv("WAGGLE_DEBUG") != ""
	verboseMode = false
)

// Enabled reports whether debug tracing is active.
func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables debug output regardless of the environment.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// Logf writes a debug trace line to stderr when tracing is active.
func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
