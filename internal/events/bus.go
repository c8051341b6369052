// Package events is the in-process lifecycle event bus. The agent loop and
// the gateway publish; the WebSocket feed and the MQTT forwarder
// subscribe. Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Sources.
const (
	SourceAgent   = "agent"
	SourceGateway = "gateway"
	SourceMemory  = "memory"
)

// Kinds. The documented Data keys are the ones publishers set.
const (
	// KindRequestStart: request_id, thread_id, small_talk.
	KindRequestStart = "request_start"
	// KindLLMCall: request_id, iter, model, tools.
	KindLLMCall = "llm_call"
	// KindLLMResponse: request_id, iter, model, tokens_in, tokens_out,
	// tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall: request_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone: request_id, tool, ok, error_kind, duration_ms.
	KindToolDone = "tool_done"
	// KindRequestComplete: request_id, thread_id, iterations,
	// tokens_in, tokens_out, budget_exceeded, unsourced_links,
	// elapsed_ms.
	KindRequestComplete = "request_complete"
	// KindRequestFailed: request_id, thread_id, error.
	KindRequestFailed = "request_failed"
	// KindTurnPersisted: thread_id, turn_id, messages.
	KindTurnPersisted = "turn_persisted"
	// KindHTTPRequest: method, path, status, elapsed_ms.
	KindHTTPRequest = "http_request"
)

// Event is one published lifecycle event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus broadcasts events to buffered subscriber channels. A full
// subscriber misses events; publishers never block.
type Bus struct {
	mu      sync.RWMutex
	subs    map[<-chan Event]chan Event
	dropped atomic.Uint64
	now     func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[<-chan Event]chan Event),
		now:  time.Now,
	}
}

// Publish delivers e to every subscriber that has room. A zero
// Timestamp is filled in.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes an event built from its parts.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events with the given buffer.
// Callers must Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Repeated
// calls are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
