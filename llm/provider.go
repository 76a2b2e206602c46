// Provider interface - the abstract interface for inference providers.
// Each implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific streaming mechanics

package llm

import "context"

// Provider defines the abstract interface for inference providers.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a plain chat completion request. Used for requests that
	// never involve tools, such as compaction summaries.
	Chat(ctx context.Context, messages []ChatMessage) (Response, error)

	// ChatWithTools sends a chat completion request with tool definitions.
	// The model may respond with tool calls in Response.ToolCalls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (Response, error)

	// StreamChatWithTools streams a chat completion with tool definitions.
	// Content fragments are sent to chunks as they arrive; the terminal
	// Response (including any tool calls) is returned only after the stream
	// closes. Cancelling ctx cancels the underlying request.
	StreamChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (Response, error)
}
