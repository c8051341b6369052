package agent

import (
	"sync"
	"time"
)

// SessionStats accumulates usage across runs since process start.
type SessionStats struct {
	mu sync.Mutex

	requests       int64
	failures       int64
	inputTokens    int64
	outputTokens   int64
	toolCalls      int64
	toolFailures   int64
	budgetExceeded int64
	lastRequest    time.Time
	started        time.Time
}

// StatsSnapshot is a point-in-time copy of SessionStats.
type StatsSnapshot struct {
	Requests       int64     `json:"requests"`
	Failures       int64     `json:"failures"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	TotalTokens    int64     `json:"total_tokens"`
	ToolCalls      int64     `json:"tool_calls"`
	ToolFailures   int64     `json:"tool_failures"`
	BudgetExceeded int64     `json:"budget_exceeded"`
	LastRequest    time.Time `json:"last_request,omitzero"`
	Since          time.Time `json:"since"`
}

func newSessionStats(now time.Time) *SessionStats {
	return &SessionStats{started: now}
}

func (s *SessionStats) record(resp *Response, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.inputTokens += int64(resp.InputTokens)
	s.outputTokens += int64(resp.OutputTokens)
	s.toolCalls += int64(len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		if !tc.OK {
			s.toolFailures++
		}
	}
	if resp.BudgetExceeded {
		s.budgetExceeded++
	}
	s.lastRequest = at
}

func (s *SessionStats) recordFailure(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	s.failures++
	s.lastRequest = at
}

// Snapshot returns the current totals.
func (s *SessionStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Requests:       s.requests,
		Failures:       s.failures,
		InputTokens:    s.inputTokens,
		OutputTokens:   s.outputTokens,
		TotalTokens:    s.inputTokens + s.outputTokens,
		ToolCalls:      s.toolCalls,
		ToolFailures:   s.toolFailures,
		BudgetExceeded: s.budgetExceeded,
		LastRequest:    s.lastRequest,
		Since:          s.started,
	}
}
