package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiClient is a client for the Gemini API via the genai SDK.
type GeminiClient struct {
	client *genai.Client
	opts   Options
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini client. The underlying SDK client holds
// no resources that need closing.
func NewGeminiClient(ctx context.Context, apiKey string, opts Options, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		opts:   opts,
		logger: logger.With("provider", "gemini"),
	}, nil
}

// Chat sends a non-streaming request.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	contents, cfg := c.request(messages, tools)

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(contents),
		"tools", len(tools),
		"stream", false,
	)
	c.logTrace(ctx, contents)

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	result := convertFromGemini(model, resp)
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"finish_reason", result.FinishReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// ChatStream streams text parts to callback as they arrive. Function calls
// are collected and returned on the final response.
func (c *GeminiClient) ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, model, messages, tools)
	}
	contents, cfg := c.request(messages, tools)

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(contents),
		"tools", len(tools),
		"stream", true,
	)
	c.logTrace(ctx, contents)

	final := &ChatResponse{Model: model, CreatedAt: time.Now(), Message: Message{Role: RoleAssistant}}
	var text strings.Builder

	for chunk, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		part := convertFromGemini(model, chunk)
		if part.Message.Content != "" {
			text.WriteString(part.Message.Content)
			callback(StreamEvent{Kind: KindToken, Token: part.Message.Content})
		}
		final.Message.ToolCalls = append(final.Message.ToolCalls, part.Message.ToolCalls...)
		if part.InputTokens > 0 {
			final.InputTokens = part.InputTokens
		}
		if part.OutputTokens > 0 {
			final.OutputTokens = part.OutputTokens
		}
		if part.FinishReason != "" {
			final.FinishReason = part.FinishReason
		}
	}
	final.Message.Content = text.String()

	c.logger.Debug("stream complete",
		"model", model,
		"input_tokens", final.InputTokens,
		"output_tokens", final.OutputTokens,
		"content_len", len(final.Message.Content),
		"tool_calls", len(final.Message.ToolCalls),
	)
	return final, nil
}

// Ping lists one model page to verify the key.
func (c *GeminiClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

func (c *GeminiClient) request(messages []Message, tools []ToolDef) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, system := convertToGemini(messages)
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.opts.Temperature)),
		Tools:       convertToolsToGemini(tools),
	}
	if c.opts.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxOutputTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return contents, cfg
}

func (c *GeminiClient) logTrace(ctx context.Context, contents []*genai.Content) {
	if !c.logger.Enabled(ctx, LevelTrace) {
		return
	}
	if data, err := json.Marshal(contents); err == nil {
		c.logger.Log(ctx, LevelTrace, "request payload", "json", string(data))
	}
}

// convertToGemini maps messages onto Gemini contents. System messages
// become the system instruction; tool results travel as function
// responses in a user turn.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var systemParts []string
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				}})
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.ToolName, toolResponsePayload(msg.Content))
			part.FunctionResponse.ID = msg.ToolCallID
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		}
	}
	return contents, strings.Join(systemParts, "\n\n")
}

// toolResponsePayload decodes a JSON-object tool result so the model sees
// structure; anything else is wrapped under "output".
func toolResponsePayload(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil && obj != nil {
		return obj
	}
	return map[string]any{"output": content}
}

func convertToolsToGemini(tools []ToolDef) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema any = t.Parameters
		if t.Parameters == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertFromGemini(model string, resp *genai.GenerateContentResponse) *ChatResponse {
	out := &ChatResponse{
		Model:     model,
		CreatedAt: time.Now(),
		Message:   Message{Role: RoleAssistant},
	}
	if resp == nil {
		return out
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		out.FinishReason = strings.ToLower(string(cand.FinishReason))
	}
	if cand.Content == nil {
		return out
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if fc := part.FunctionCall; fc != nil {
			args := fc.Args
			if args == nil {
				args = map[string]any{}
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Arguments: args})
		}
	}
	out.Message.Content = text.String()
	return out
}
