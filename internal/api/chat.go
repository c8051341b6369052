package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/web3scout/scout/internal/agent"
	"github.com/web3scout/scout/internal/llm"
)

// WardenRequest is the body of POST /.
type WardenRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

// WardenResponse is the reply to POST /.
type WardenResponse struct {
	Text string `json:"text"`
}

// handleWardenQuery serves the Warden community-agent contract:
// POST / {"query": "..."} -> {"text": "..."}.
func (s *Server) handleWardenQuery(w http.ResponseWriter, r *http.Request) {
	var req WardenRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.errorResponse(w, http.StatusBadRequest, "query is required")
		return
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	resp, err := s.agent.Run(r.Context(), &agent.Request{ThreadID: threadID, Message: req.Query}, nil)
	if err != nil {
		s.runFailed(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, WardenResponse{Text: resp.Content}, s.logger)
}

// AskRequest is the body of POST /ask.
type AskRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// AskResponse is the reply to POST /ask.
type AskResponse struct {
	Response       string   `json:"response"`
	ThreadID       string   `json:"thread_id"`
	Model          string   `json:"model"`
	ToolCalls      []string `json:"tool_calls,omitempty"`
	UnsourcedLinks []string `json:"unsourced_links,omitempty"`
	BudgetExceeded bool     `json:"budget_exceeded,omitempty"`
}

// handleAsk is the simplest conversational endpoint.
// POST /ask {"message": "Any IDOs this week?", "thread_id": "t1"}
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	resp, err := s.agent.Run(r.Context(), &agent.Request{ThreadID: threadID, Message: req.Message}, nil)
	if err != nil {
		s.runFailed(w, r, err)
		return
	}

	out := AskResponse{
		Response:       resp.Content,
		ThreadID:       resp.ThreadID,
		Model:          resp.Model,
		UnsourcedLinks: resp.UnsourcedLinks,
		BudgetExceeded: resp.BudgetExceeded,
	}
	for _, tc := range resp.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, tc.Name)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

// ChatMessage is one entry of a chat request. Content may be a string
// or, as sent by AI SDK clients, absent in favour of Parts.
type ChatMessage struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Parts   []ChatPart `json:"parts,omitempty"`
}

// ChatPart is a typed fragment of a message.
type ChatPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UnmarshalJSON accepts content as a string or an array of parts.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Parts   []ChatPart      `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role, m.Parts, m.Content = raw.Role, raw.Parts, ""
	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw.Content, &m.Content); err == nil {
		return nil
	}
	var parts []ChatPart
	if err := json.Unmarshal(raw.Content, &parts); err != nil {
		return fmt.Errorf("content must be a string or an array of parts")
	}
	m.Parts = append(parts, m.Parts...)
	return nil
}

// Text returns the message text, joining text parts when Content is
// empty.
func (m ChatMessage) Text() string {
	if m.Content != "" {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// lastUserMessage returns the newest user utterance. Earlier messages are
// ignored: the thread's history lives server-side.
func lastUserMessage(msgs []ChatMessage) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			text := strings.TrimSpace(msgs[i].Text())
			return text, text != ""
		}
	}
	return "", false
}

// ChatCompletionRequest is the OpenAI-compatible request format.
// ThreadID (or, failing that, User) selects the conversation.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	User     string        `json:"user,omitempty"`
	ThreadID string        `json:"thread_id,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message of a completion.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func completionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func (s *Server) completion(resp *agent.Response) ChatCompletionResponse {
	return ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: s.now().Unix(),
		Model:   resp.Model,
		Choices: []Choice{{
			Message:      ResponseMessage{Role: llm.RoleAssistant, Content: resp.Content},
			FinishReason: "stop",
		}},
		Usage: Usage{
			PromptTokens:     resp.InputTokens,
			CompletionTokens: resp.OutputTokens,
			TotalTokens:      resp.InputTokens + resp.OutputTokens,
		},
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "messages are required")
		return
	}
	message, ok := lastUserMessage(req.Messages)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "no user message")
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = req.User
	}
	agentReq := &agent.Request{ThreadID: threadID, Message: message}
	if req.Model != modelAlias {
		agentReq.Model = req.Model
	}

	if req.Stream {
		s.handleStreamingCompletion(w, r, agentReq)
		return
	}

	resp, err := s.agent.Run(r.Context(), agentReq, nil)
	if err != nil {
		s.runFailed(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.completion(resp), s.logger)
}

// StreamChunk is the SSE format for streaming responses.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// StreamChoice represents a streaming choice with delta content.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// StreamDelta represents incremental content.
type StreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleStreamingCompletion(w http.ResponseWriter, r *http.Request, agentReq *agent.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id := completionID()
	created := s.now().Unix()
	model := agentReq.Model
	if model == "" {
		model = s.agent.Model()
	}
	chunk := func(delta StreamDelta, finish *string) StreamChunk {
		return StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []StreamChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	s.writeSSE(w, chunk(StreamDelta{Role: llm.RoleAssistant}, nil))
	flusher.Flush()

	rc := http.NewResponseController(w)
	callback := func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			s.writeSSE(w, chunk(StreamDelta{Content: ev.Token}, nil))
		case llm.KindToolCallStart, llm.KindToolCallDone:
			// Comment line keeps proxies from timing out during tool calls.
			fmt.Fprintf(w, ": keepalive\n\n")
		case llm.KindDone:
			return
		}
		flusher.Flush()
		if err := rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}

	resp, err := s.agent.Run(r.Context(), agentReq, callback)
	if err != nil {
		// Headers are sent; report in-band.
		s.logger.Error("streaming run failed", "error", err)
		s.writeSSEError(w, err)
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
		return
	}

	model = resp.Model
	stop := "stop"
	s.writeSSE(w, chunk(StreamDelta{}, &stop))
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Debug("failed to marshal SSE chunk", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE chunk", "error", err)
	}
}

func (s *Server) writeSSEError(w http.ResponseWriter, err error) {
	s.writeSSE(w, map[string]any{
		"error": map[string]any{"message": publicError(err), "type": "server_error"},
	})
}
