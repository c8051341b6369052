package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/web3scout/scout/internal/agent"
	"github.com/web3scout/scout/internal/llm"
)

// DataStreamChatRequest is the body AI SDK useChat clients send to
// /api/chat. ID is the client's chat id and doubles as the thread id.
type DataStreamChatRequest struct {
	ID       string        `json:"id,omitempty"`
	ThreadID string        `json:"thread_id,omitempty"`
	Messages []ChatMessage `json:"messages"`
	Stream   *bool         `json:"stream,omitempty"`
}

// Data-stream part prefixes.
const (
	partText       = "0"
	partError      = "3"
	partToolCall   = "9"
	partToolResult = "a"
	partFinishStep = "e"
	partFinishMsg  = "d"
	partStartStep  = "f"
)

type dataStreamUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// dataStream writes Vercel AI data-stream parts: one "<prefix>:<json>\n"
// line per part.
type dataStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	s       *Server
}

func (d *dataStream) part(prefix string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		d.s.logger.Debug("failed to marshal data-stream part", "error", err)
		return
	}
	if _, err := fmt.Fprintf(d.w, "%s:%s\n", prefix, b); err != nil {
		d.s.logger.Debug("failed to write data-stream part", "error", err)
		return
	}
	d.flusher.Flush()
	if err := d.rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		d.s.logger.Debug("failed to reset write deadline", "error", err)
	}
}

func (d *dataStream) finish(usage dataStreamUsage) {
	d.part(partFinishStep, map[string]any{"finishReason": "stop", "usage": usage, "isContinued": false})
	d.part(partFinishMsg, map[string]any{"finishReason": "stop", "usage": usage})
}

// handleDataStreamChat serves AI SDK chat clients. With stream false it
// answers with chat-completion JSON instead.
func (s *Server) handleDataStreamChat(w http.ResponseWriter, r *http.Request) {
	var req DataStreamChatRequest
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
		threadID = req.ID
	}
	agentReq := &agent.Request{ThreadID: threadID, Message: message}

	if req.Stream != nil && !*req.Stream {
		resp, err := s.agent.Run(r.Context(), agentReq, nil)
		if err != nil {
			s.runFailed(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, s.completion(resp), s.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Vercel-AI-Data-Stream", "v1")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ds := &dataStream{w: w, flusher: flusher, rc: http.NewResponseController(w), s: s}
	ds.part(partStartStep, map[string]string{"messageId": "msg-" + completionID()[len("chatcmpl-"):]})

	var lastCallID string
	callback := func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			ds.part(partText, ev.Token)
		case llm.KindToolCallStart:
			if ev.ToolCall == nil {
				return
			}
			lastCallID = ev.ToolCall.ID
			ds.part(partToolCall, map[string]any{
				"toolCallId": ev.ToolCall.ID,
				"toolName":   ev.ToolCall.Name,
				"args":       ev.ToolCall.Arguments,
			})
		case llm.KindToolCallDone:
			ds.part(partToolResult, map[string]any{
				"toolCallId": lastCallID,
				"result":     ev.ToolResult,
			})
		}
	}

	resp, err := s.agent.Run(r.Context(), agentReq, callback)
	if err != nil {
		s.logger.Error("data-stream run failed", "error", err)
		ds.part(partError, publicError(err))
		ds.finish(dataStreamUsage{})
		return
	}
	ds.finish(dataStreamUsage{PromptTokens: resp.InputTokens, CompletionTokens: resp.OutputTokens})
}
