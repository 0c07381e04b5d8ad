package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// termenv folds in the NO_COLOR, CLICOLOR and TERM conventions; piped
// output stays plain unless CLICOLOR_FORCE insists.
func ShouldUseColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	if !IsTerminal() {
		force := os.Getenv("CLICOLOR_FORCE")
		return force != "" && force != "0"
	}
	return termenv.EnvColorProfile() != termenv.Ascii
}

// ShouldUseEmoji determines if emoji decorations should be used.
// Disabled in non-TTY mode to keep output machine-readable.
// Can be controlled with the WAGGLE_NO_EMOJI environment variable.
func ShouldUseEmoji() bool {
	// Explicit disable
	if os.Getenv("WAGGLE_NO_EMOJI") != "" {
		return false
	}

	// Default: use emoji only if stdout is a TTY
	return IsTerminal()
}

// GetWidth returns the width of the terminal or a default value.
func GetWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
