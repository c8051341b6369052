package llm

import "context"

// Client is the interface that all model providers implement. Clients are
// stateless between calls and safe for concurrent use.
type Client interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error)

	// ChatStream sends a request and streams text tokens to callback as
	// they arrive. A nil callback behaves like Chat.
	ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable and the credential works.
	Ping(ctx context.Context) error
}
