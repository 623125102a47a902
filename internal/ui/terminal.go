package ui

import (
	"os"

	"github.com/muesli/termenv"
)

// IsAgentMode reports whether output is being consumed by another agent
// rather than a human terminal. Agents get plain, parseable text.
func IsAgentMode() bool {
	return os.Getenv("PMX_AGENT_MODE") != ""
}

// ShouldUseColor reports whether styled output is appropriate: a real
// color-capable terminal, NO_COLOR unset, and not agent mode.
func ShouldUseColor() bool {
	if IsAgentMode() {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return termenv.NewOutput(os.Stdout).Profile != termenv.Ascii
}
