package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "web_search"}
	want := `tool "web_search" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAsFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind FailureKind
		wantMsg  string
	}{
		{"direct", RateLimited("slow down"), FailureRateLimited, "slow down"},
		{"wrapped", fmt.Errorf("search: %w", Malformed("bad json")), FailureMalformed, "bad json"},
		{"unknown tool", &ErrToolUnavailable{ToolName: "exec"}, FailureUnavailable, `tool "exec" is not available in this context`},
		{"plain error", errors.New("dial tcp: refused"), FailureUnavailable, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AsFailure(tt.err)
			if got.Kind != tt.wantKind || got.Message != tt.wantMsg {
				t.Errorf("AsFailure() = %+v, want %s/%q", got, tt.wantKind, tt.wantMsg)
			}
		})
	}
	if AsFailure(nil) != nil {
		t.Error("AsFailure(nil) should be nil")
	}
}
