package agent

import (
	"strings"

	"github.com/google/uuid"
)

// generateRequestID returns a short id for correlating the log lines and
// events of one run: "r_" followed by 8 hex characters.
func generateRequestID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// newTurnID returns the idempotency key for one turn's append.
func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// newCallID names a tool call the provider left unnamed.
func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
