package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// outputJSON writes v to stdout as indented JSON. Used by every command
// behind the --json flag.
func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// FatalError prints an error to stderr and exits non-zero.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	closeStore()
	os.Exit(1)
}

// FatalErrorRespectJSON is FatalError, but emits a JSON error object when
// --json is set so scripted callers never have to parse prose.
func FatalErrorRespectJSON(format string, args ...interface{}) {
	if jsonOutput {
		msg := fmt.Sprintf(format, args...)
		if data, err := json.Marshal(map[string]string{"error": msg}); err == nil {
			fmt.Println(string(data))
		}
		closeStore()
		os.Exit(1)
	}
	FatalError(format, args...)
}
