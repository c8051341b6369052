package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/web3scout/scout/internal/config"
	"github.com/web3scout/scout/internal/events"
)

type fakePublisher struct {
	mu  sync.Mutex
	got []*paho.Publish
}

func (p *fakePublisher) Publish(_ context.Context, msg *paho.Publish) (*paho.PublishResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, msg)
	return &paho.PublishResponse{}, nil
}

func (p *fakePublisher) topics() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string)
	for _, m := range p.got {
		out[m.Topic] = string(m.Payload)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestForwarder() *Forwarder {
	cfg := config.MQTTConfig{Broker: "mqtt://localhost:1883", Topic: "scout/events", ClientID: "scout"}
	return NewForwarder(cfg, events.New(), quietLogger())
}

func TestForwarder_Topics(t *testing.T) {
	f := newTestForwarder()
	tests := []struct {
		e    events.Event
		want string
	}{
		{events.Event{Source: events.SourceAgent, Kind: events.KindToolDone}, "scout/events/agent/tool_done"},
		{events.Event{Source: "a/b", Kind: "x#"}, "scout/events/a_b/x_"},
		{events.Event{}, "scout/events/unknown/unknown"},
	}
	for _, tt := range tests {
		if got := f.eventTopic(tt.e); got != tt.want {
			t.Errorf("eventTopic(%+v) = %q, want %q", tt.e, got, tt.want)
		}
	}
	if got := f.availabilityTopic(); got != "scout/events/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
}

func TestForwarder_HandlePublishesEventAndTokens(t *testing.T) {
	f := newTestForwarder()
	pub := &fakePublisher{}
	ctx := context.Background()

	f.handle(ctx, pub, events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMResponse,
		Data:   map[string]any{"request_id": "r1", "tokens_in": 120, "tokens_out": 30},
	})
	f.handle(ctx, pub, events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data:   map[string]any{"request_id": "r1"},
	})

	got := pub.topics()
	var e events.Event
	if err := json.Unmarshal([]byte(got["scout/events/agent/llm_response"]), &e); err != nil {
		t.Fatalf("llm_response payload: %v", err)
	}
	if e.Data["request_id"] != "r1" {
		t.Errorf("payload data = %v", e.Data)
	}
	if got["scout/events/tokens_today"] != "150" {
		t.Errorf("tokens_today = %q, want 150", got["scout/events/tokens_today"])
	}
}

func TestForwarder_ForwardStopsOnCancel(t *testing.T) {
	f := newTestForwarder()
	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.forward(ctx, pub)
		close(done)
	}()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for f.bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	f.bus.Emit(events.SourceGateway, events.KindHTTPRequest, map[string]any{"path": "/ask"})

	deadline = time.Now().Add(time.Second)
	for len(pub.topics()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, ok := pub.topics()["scout/events/gateway/http_request"]; !ok {
		t.Errorf("event not forwarded: %v", pub.topics())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not return after cancel")
	}
	if n := f.bus.SubscriberCount(); n != 0 {
		t.Errorf("subscription leaked: %d", n)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(5, time.Second, quietLogger())
	for i := range 5 {
		if !rl.allow() {
			t.Errorf("event %d should have been allowed", i)
		}
	}
	if rl.allow() {
		t.Error("event 6 should have been rate-limited")
	}
	if dropped := rl.dropped.Load(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := newRateLimiter(1000, time.Second, quietLogger())
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				rl.allow()
			}
		}()
	}
	wg.Wait()

	if count := rl.count.Load(); count != 2000 {
		t.Errorf("count = %d, want 2000", count)
	}
	if dropped := rl.dropped.Load(); dropped != 1000 {
		t.Errorf("dropped = %d, want 1000", dropped)
	}
}
