package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/web3scout/scout/internal/agent"
	"github.com/web3scout/scout/internal/events"
	"github.com/web3scout/scout/internal/llm"
	"github.com/web3scout/scout/internal/memory"
	"github.com/web3scout/scout/internal/prompts"
)

// fakeAgent records requests and answers with run.
type fakeAgent struct {
	mu      sync.Mutex
	reqs    []agent.Request
	run     func(req *agent.Request, stream llm.StreamCallback) (*agent.Response, error)
	history map[string][]memory.Message
}

func (f *fakeAgent) Run(ctx context.Context, req *agent.Request, stream llm.StreamCallback) (*agent.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, *req)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(req, stream)
	}
	return &agent.Response{Content: "answer to " + req.Message, Model: "gemini-2.5-flash", ThreadID: req.ThreadID}, nil
}

func (f *fakeAgent) History(_ context.Context, threadID string) ([]memory.Message, error) {
	return f.history[threadID], nil
}

func (f *fakeAgent) Stats() agent.StatsSnapshot {
	return agent.StatsSnapshot{Requests: 3, InputTokens: 100, OutputTokens: 20, TotalTokens: 120}
}

func (f *fakeAgent) Model() string { return "gemini-2.5-flash" }

func (f *fakeAgent) requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.reqs...)
}

type fakeStore struct{}

func (fakeStore) Stats(context.Context) (map[string]any, error) {
	return map[string]any{"threads": 2, "messages": 9, "storage": "memory"}, nil
}

func newTestServer(t *testing.T, a *fakeAgent) (*Server, *events.Bus, *httptest.Server) {
	t.Helper()
	bus := events.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer("", 0, a, bus, logger)
	s.SetStoreStats(fakeStore{})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, bus, ts
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func TestRootAndHealth(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeAgent{})

	tests := []struct {
		path string
		want map[string]string
	}{
		{path: "/", want: map[string]string{"status": "ok", "name": "scout"}},
		{path: "/health", want: map[string]string{"status": "healthy"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, ts.URL+tt.path)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			var got map[string]string
			if err := json.Unmarshal([]byte(body), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestWardenQuery(t *testing.T) {
	a := &fakeAgent{}
	_, _, ts := newTestServer(t, a)

	resp, body := post(t, ts.URL+"/", `{"query": "Which ICOs launched this month?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var got WardenResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Text != "answer to Which ICOs launched this month?" {
		t.Errorf("text = %q", got.Text)
	}

	reqs := a.requests()
	if len(reqs) != 1 || reqs[0].ThreadID == "" {
		t.Errorf("requests = %+v, want one with a generated thread id", reqs)
	}
}

func TestMalformedRequestsRejected(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "warden bad json", path: "/", body: `{"query":`},
		{name: "warden empty query", path: "/", body: `{"query": "  "}`},
		{name: "ask empty message", path: "/ask", body: `{"message": ""}`},
		{name: "ask wrong type", path: "/ask", body: `{"message": 42}`},
		{name: "completions no messages", path: "/v1/chat/completions", body: `{"messages": []}`},
		{name: "completions no user message", path: "/v1/chat/completions", body: `{"messages": [{"role": "system", "content": "x"}]}`},
		{name: "data stream empty user message", path: "/api/chat", body: `{"messages": [{"role": "user", "parts": []}]}`},
		{name: "data stream bad content", path: "/api/chat", body: `{"messages": [{"role": "user", "content": 7}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAgent{}
			_, _, ts := newTestServer(t, a)

			resp, body := post(t, ts.URL+tt.path, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", resp.StatusCode, body)
			}
			if n := len(a.requests()); n != 0 {
				t.Errorf("agent ran %d times for a malformed request", n)
			}
		})
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "model unavailable",
			err:        fmt.Errorf("gemini: 503 overloaded: %w", llm.ErrModelUnavailable),
			wantStatus: http.StatusBadGateway,
			wantMsg:    prompts.ModelUnavailableMessage,
		},
		{
			name:       "run timeout",
			err:        fmt.Errorf("tool loop: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "store failure",
			err:        errors.New("persist turn: disk I/O error at /var/lib/scout.db"),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAgent{run: func(*agent.Request, llm.StreamCallback) (*agent.Response, error) {
				return nil, tt.err
			}}
			_, _, ts := newTestServer(t, a)

			resp, body := post(t, ts.URL+"/ask", `{"message": "Any IDOs today?"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantMsg != "" && !strings.Contains(body, tt.wantMsg) {
				t.Errorf("body %s missing %q", body, tt.wantMsg)
			}
			if strings.Contains(body, "503 overloaded") || strings.Contains(body, "/var/lib") {
				t.Errorf("internal error text leaked: %s", body)
			}
		})
	}
}

func TestAsk(t *testing.T) {
	a := &fakeAgent{run: func(req *agent.Request, _ llm.StreamCallback) (*agent.Response, error) {
		return &agent.Response{
			Content:        "1. Monad raised $225M.",
			Model:          "gemini-2.5-flash",
			ThreadID:       req.ThreadID,
			ToolCalls:      []agent.ToolCallRecord{{Name: "current_time", OK: true}, {Name: "web_search", OK: true}},
			UnsourcedLinks: []string{"https://invented.example.org"},
		}, nil
	}}
	_, _, ts := newTestServer(t, a)

	resp, body := post(t, ts.URL+"/ask", `{"message": "Monad funding", "thread_id": "t-42"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var got AskResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	want := AskResponse{
		Response:       "1. Monad raised $225M.",
		ThreadID:       "t-42",
		Model:          "gemini-2.5-flash",
		ToolCalls:      []string{"current_time", "web_search"},
		UnsourcedLinks: []string{"https://invented.example.org"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestChatCompletions_JSON(t *testing.T) {
	a := &fakeAgent{run: func(req *agent.Request, _ llm.StreamCallback) (*agent.Response, error) {
		return &agent.Response{Content: "ok", Model: "gemini-2.5-flash", InputTokens: 120, OutputTokens: 8}, nil
	}}
	_, _, ts := newTestServer(t, a)

	resp, body := post(t, ts.URL+"/v1/chat/completions", `{
		"model": "scout",
		"user": "u-1",
		"messages": [
			{"role": "user", "content": "earlier question"},
			{"role": "assistant", "content": "earlier answer"},
			{"role": "user", "content": "Any TGEs this week?"}
		]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var got ChatCompletionResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Object != "chat.completion" || len(got.Choices) != 1 || got.Choices[0].Message.Content != "ok" {
		t.Errorf("completion = %+v", got)
	}
	if got.Usage.TotalTokens != 128 {
		t.Errorf("total tokens = %d, want 128", got.Usage.TotalTokens)
	}

	wantReq := agent.Request{ThreadID: "u-1", Message: "Any TGEs this week?"}
	if diff := cmp.Diff([]agent.Request{wantReq}, a.requests()); diff != "" {
		t.Errorf("agent request mismatch (-want +got):\n%s", diff)
	}
}

func TestChatCompletions_Stream(t *testing.T) {
	a := &fakeAgent{run: func(req *agent.Request, stream llm.StreamCallback) (*agent.Response, error) {
		stream(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &llm.ToolCall{ID: "c1", Name: "web_search"}})
		stream(llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: "web_search", ToolResult: `{"ok":true}`})
		stream(llm.StreamEvent{Kind: llm.KindToken, Token: "Hello "})
		stream(llm.StreamEvent{Kind: llm.KindToken, Token: "world"})
		return &agent.Response{Content: "Hello world", Model: "gemini-2.5-flash"}, nil
	}}
	_, _, ts := newTestServer(t, a)

	resp, body := post(t, ts.URL+"/v1/chat/completions", `{"stream": true, "messages": [{"role": "user", "content": "hi there"}]}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var content strings.Builder
	var done bool
	for _, line := range strings.Split(body, "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			done = true
			continue
		}
		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", data, err)
		}
		content.WriteString(chunk.Choices[0].Delta.Content)
	}
	if content.String() != "Hello world" {
		t.Errorf("streamed content = %q", content.String())
	}
	if !done {
		t.Error("missing [DONE] marker")
	}
	if !strings.Contains(body, ": keepalive") {
		t.Error("missing keepalive during tool call")
	}
}

func TestDataStreamChat(t *testing.T) {
	a := &fakeAgent{run: func(req *agent.Request, stream llm.StreamCallback) (*agent.Response, error) {
		stream(llm.StreamEvent{Kind: llm.KindToolCallStart, ToolCall: &llm.ToolCall{ID: "c1", Name: "crypto_news", Arguments: map[string]any{"recent": true}}})
		stream(llm.StreamEvent{Kind: llm.KindToolCallDone, ToolName: "crypto_news", ToolResult: `{"ok":true}`})
		stream(llm.StreamEvent{Kind: llm.KindToken, Token: "Two rounds."})
		return &agent.Response{Content: "Two rounds.", InputTokens: 50, OutputTokens: 5}, nil
	}}
	_, _, ts := newTestServer(t, a)

	resp, body := post(t, ts.URL+"/api/chat", `{
		"id": "chat-7",
		"messages": [{"role": "user", "parts": [{"type": "text", "text": "Recent raises?"}]}]
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Vercel-AI-Data-Stream"); got != "v1" {
		t.Errorf("data stream header = %q, want v1", got)
	}

	var prefixes []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		prefix, payload, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			t.Fatalf("malformed part %q", sc.Text())
		}
		if !json.Valid([]byte(payload)) {
			t.Errorf("part %s payload is not JSON: %s", prefix, payload)
		}
		prefixes = append(prefixes, prefix)
	}
	if diff := cmp.Diff([]string{"f", "9", "a", "0", "e", "d"}, prefixes); diff != "" {
		t.Errorf("part sequence mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(body, `0:"Two rounds."`) {
		t.Errorf("body missing text part:\n%s", body)
	}
	if !strings.Contains(body, `"promptTokens":50`) {
		t.Errorf("finish part missing usage:\n%s", body)
	}

	reqs := a.requests()
	if len(reqs) != 1 || reqs[0].ThreadID != "chat-7" || reqs[0].Message != "Recent raises?" {
		t.Errorf("agent requests = %+v", reqs)
	}
}

func TestDataStreamChat_Error(t *testing.T) {
	a := &fakeAgent{run: func(*agent.Request, llm.StreamCallback) (*agent.Response, error) {
		return nil, fmt.Errorf("anthropic: %w", llm.ErrModelUnavailable)
	}}
	_, _, ts := newTestServer(t, a)

	_, body := post(t, ts.URL+"/api/chat", `{"messages": [{"role": "user", "content": "Recent raises?"}]}`)
	want, _ := json.Marshal(prompts.ModelUnavailableMessage)
	if !strings.Contains(body, "3:"+string(want)) {
		t.Errorf("body missing error part:\n%s", body)
	}
}

func TestDataStreamChat_NoStream(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeAgent{})

	resp, body := post(t, ts.URL+"/api/chat", `{"stream": false, "messages": [{"role": "user", "content": "Recent raises?"}]}`)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got ChatCompletionResponse
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Choices[0].Message.Content != "answer to Recent raises?" {
		t.Errorf("content = %q", got.Choices[0].Message.Content)
	}
}

func TestChatMessage_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{name: "string content", json: `{"role":"user","content":"hello"}`, want: "hello"},
		{name: "content parts", json: `{"role":"user","content":[{"type":"text","text":"a"},{"type":"image","text":""},{"type":"text","text":"b"}]}`, want: "a\nb"},
		{name: "parts field", json: `{"role":"user","parts":[{"type":"text","text":"c"}]}`, want: "c"},
		{name: "null content", json: `{"role":"user","content":null}`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m ChatMessage
			if err := json.Unmarshal([]byte(tt.json), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestThread(t *testing.T) {
	a := &fakeAgent{history: map[string][]memory.Message{
		"t1": {
			{ID: "m1", Role: memory.RoleUser, Content: "Monad funding"},
			{ID: "m2", Role: memory.RoleAssistant, Content: "Monad raised $225M."},
		},
	}}
	_, _, ts := newTestServer(t, a)

	resp, body := get(t, ts.URL+"/v1/threads/t1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got struct {
		ThreadID string           `json:"thread_id"`
		Count    int              `json:"count"`
		Messages []memory.Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.ThreadID != "t1" || got.Count != 2 || got.Messages[1].Content != "Monad raised $225M." {
		t.Errorf("thread = %+v", got)
	}

	if resp, _ := get(t, ts.URL+"/v1/threads/unknown"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown thread status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionStats(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeAgent{})

	_, body := get(t, ts.URL+"/v1/session/stats")
	var got struct {
		Session agent.StatsSnapshot `json:"session"`
		Store   map[string]any      `json:"store"`
		Events  map[string]any      `json:"events"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatal(err)
	}
	if got.Session.TotalTokens != 120 || got.Session.Requests != 3 {
		t.Errorf("session = %+v", got.Session)
	}
	if got.Store["storage"] != "memory" {
		t.Errorf("store = %v", got.Store)
	}
	if got.Events == nil {
		t.Error("missing events section")
	}
}

func TestModels(t *testing.T) {
	_, _, ts := newTestServer(t, &fakeAgent{})

	_, body := get(t, ts.URL+"/v1/models")
	if !strings.Contains(body, `"id":"scout"`) || !strings.Contains(body, `"id":"gemini-2.5-flash"`) {
		t.Errorf("models = %s", body)
	}
}

func TestRequestsPublishEvents(t *testing.T) {
	_, bus, ts := newTestServer(t, &fakeAgent{})
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	get(t, ts.URL+"/health")

	select {
	case ev := <-ch:
		if ev.Source != events.SourceGateway || ev.Kind != events.KindHTTPRequest {
			t.Errorf("event = %+v", ev)
		}
		if ev.Data["path"] != "/health" || ev.Data["status"] != http.StatusOK {
			t.Errorf("event data = %v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no http_request event")
	}
}

func TestEventFeed(t *testing.T) {
	_, bus, ts := newTestServer(t, &fakeAgent{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events?source=agent"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event feed never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Emit(events.SourceMemory, events.KindTurnPersisted, map[string]any{"thread_id": "t1"})
	bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{"request_id": "r_1234abcd"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Source != events.SourceAgent || ev.Kind != events.KindRequestComplete {
		t.Errorf("event = %+v, want the agent event only", ev)
	}
	if ev.Data["request_id"] != "r_1234abcd" {
		t.Errorf("data = %v", ev.Data)
	}
}
