package tools

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a tool could not produce a result. The agent
// reports each kind to the model as an observation instead of aborting.
type FailureKind string

const (
	// FailureUnavailable covers missing credentials, network failures,
	// upstream errors, timeouts, and unknown tools.
	FailureUnavailable FailureKind = "unavailable"

	// FailureRateLimited means the upstream refused with a rate limit.
	FailureRateLimited FailureKind = "rate_limited"

	// FailureMalformed means the arguments failed validation or the
	// upstream response could not be understood.
	FailureMalformed FailureKind = "malformed"
)

// Failure is a classified tool error. Handlers return it directly (or
// wrapped) to choose the kind; any other error is reported as
// FailureUnavailable.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unavailable builds a FailureUnavailable.
func Unavailable(format string, args ...any) *Failure {
	return &Failure{Kind: FailureUnavailable, Message: fmt.Sprintf(format, args...)}
}

// RateLimited builds a FailureRateLimited.
func RateLimited(format string, args ...any) *Failure {
	return &Failure{Kind: FailureRateLimited, Message: fmt.Sprintf(format, args...)}
}

// Malformed builds a FailureMalformed.
func Malformed(format string, args ...any) *Failure {
	return &Failure{Kind: FailureMalformed, Message: fmt.Sprintf(format, args...)}
}

// ErrToolUnavailable is returned when a call names a tool that is not
// registered.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}

// AsFailure classifies err. A nil error yields nil.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	var tu *ErrToolUnavailable
	if errors.As(err, &tu) {
		return &Failure{Kind: FailureUnavailable, Message: tu.Error()}
	}
	return &Failure{Kind: FailureUnavailable, Message: err.Error()}
}
