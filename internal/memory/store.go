// Package memory provides thread-scoped conversation storage.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// DefaultMaxHistory is the number of recent messages Load returns when
// no limit is configured.
const DefaultMaxHistory = 50

// Message is one persisted conversation message. Messages are immutable
// once appended.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolCall  *ToolCall `json:"tool_call,omitempty"`
	// ToolCallID links a tool result to the invocation that produced it.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToolCall is the single tool invocation carried by an assistant message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Store loads and appends thread history.
type Store interface {
	// Load returns the most recent messages of a thread in order,
	// starting at a user message. An unseen thread yields an empty slice.
	Load(ctx context.Context, threadID string) ([]Message, error)

	// Append persists one turn's messages atomically. A turnID that was
	// already appended is a no-op.
	Append(ctx context.Context, threadID, turnID string, msgs []Message) error
}

// stamp fills the ID and Timestamp of messages that lack them.
func stamp(msgs []Message, now time.Time) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			id, _ := uuid.NewV7()
			m.ID = id.String()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		if m.ToolCall != nil {
			tc := *m.ToolCall
			tc.Arguments = maps.Clone(tc.Arguments)
			m.ToolCall = &tc
		}
		out[i] = m
	}
	return out
}

// trimHistory keeps the last max messages, then drops everything before
// the first user message so the window starts on a turn boundary: no
// orphaned tool result, and no assistant message first (providers such
// as Anthropic reject a conversation that does not open with the user).
func trimHistory(msgs []Message, max int) []Message {
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	for len(msgs) > 0 && msgs[0].Role != RoleUser {
		msgs = msgs[1:]
	}
	return msgs
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.RWMutex
	threads    map[string][]Message
	turns      map[string]struct{}
	maxHistory int
	now        func() time.Time
}

// NewMemoryStore creates an empty in-process store. maxHistory <= 0
// selects DefaultMaxHistory.
func NewMemoryStore(maxHistory int) *MemoryStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &MemoryStore{
		threads:    make(map[string][]Message),
		turns:      make(map[string]struct{}),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, threadID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := trimHistory(s.threads[threadID], s.maxHistory)
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, threadID, turnID string, msgs []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.turns[turnID]; done {
		return nil
	}
	s.turns[turnID] = struct{}{}
	s.threads[threadID] = append(s.threads[threadID], stamp(msgs, s.now())...)
	return nil
}

// Stats reports thread and message counts.
func (s *MemoryStore) Stats(context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := 0
	for _, msgs := range s.threads {
		messages += len(msgs)
	}
	return map[string]any{
		"threads":     len(s.threads),
		"messages":    messages,
		"max_history": s.maxHistory,
		"storage":     "memory",
	}, nil
}
