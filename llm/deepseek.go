// DeepSeek Provider implementation.
//
// DeepSeek exposes an OpenAI-compatible API; this provider reuses the
// openAICore plumbing with a different base URL.

package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// DeepSeekProvider implements the Provider interface for DeepSeek.
type DeepSeekProvider struct {
	core openAICore
}

// NewDeepSeekProvider creates a new DeepSeek provider.
func NewDeepSeekProvider(apiKey, model string, maxTokens uint32, temperature float32) *DeepSeekProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = deepseekBaseURL

	return &DeepSeekProvider{
		core: openAICore{
			client:      openai.NewClientWithConfig(config),
			name:        "deepseek",
			model:       model,
			maxTokens:   int(maxTokens),
			temperature: temperature,
		},
	}
}

func (p *DeepSeekProvider) Name() string  { return p.core.name }
func (p *DeepSeekProvider) Model() string { return p.core.model }

func (p *DeepSeekProvider) Chat(ctx context.Context, messages []ChatMessage) (Response, error) {
	return p.core.chat(ctx, messages, nil)
}

func (p *DeepSeekProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (Response, error) {
	return p.core.chat(ctx, messages, tools)
}

func (p *DeepSeekProvider) StreamChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (Response, error) {
	return p.core.stream(ctx, messages, tools, chunks)
}

// Verify DeepSeekProvider implements Provider
var _ Provider = (*DeepSeekProvider)(nil)
