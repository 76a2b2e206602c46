// OpenAI Provider implementation using the go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the Chat Completions API
// - Streaming tool-call delta accumulation

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI.
// DeepSeekProvider reuses the same core with a different base URL.
type OpenAIProvider struct {
	core openAICore
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{
		core: openAICore{
			client:      openai.NewClient(apiKey),
			name:        "openai",
			model:       model,
			maxTokens:   int(maxTokens),
			temperature: temperature,
		},
	}
}

func (p *OpenAIProvider) Name() string  { return p.core.name }
func (p *OpenAIProvider) Model() string { return p.core.model }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage) (Response, error) {
	return p.core.chat(ctx, messages, nil)
}

func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (Response, error) {
	return p.core.chat(ctx, messages, tools)
}

func (p *OpenAIProvider) StreamChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (Response, error) {
	return p.core.stream(ctx, messages, tools, chunks)
}

// openAICore holds the request plumbing shared by every OpenAI-compatible
// endpoint (OpenAI itself, DeepSeek).
type openAICore struct {
	client      *openai.Client
	name        string
	model       string
	maxTokens   int
	temperature float32
}

func (c *openAICore) chat(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	if len(tools) > 0 {
		req.Tools = convertToOpenAITools(tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	out := Response{
		Usage: &TokenUsage{
			PromptTokens:     uint32(resp.Usage.PromptTokens),
			CompletionTokens: uint32(resp.Usage.CompletionTokens),
			TotalTokens:      uint32(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
		for _, tc := range resp.Choices[0].Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}
	return out, nil
}

func (c *openAICore) stream(ctx context.Context, messages []ChatMessage, tools []ToolDefinition, chunks chan<- string) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(tools) > 0 {
		req.Tools = convertToOpenAITools(tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var out Response
	var content string
	acc := newToolCallAccumulator()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("stream recv failed: %w", err)
		}

		if resp.Usage != nil {
			out.Usage = &TokenUsage{
				PromptTokens:     uint32(resp.Usage.PromptTokens),
				CompletionTokens: uint32(resp.Usage.CompletionTokens),
				TotalTokens:      uint32(resp.Usage.TotalTokens),
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			content += delta.Content
			select {
			case chunks <- delta.Content:
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
		acc.add(delta.ToolCalls)
	}

	out.Content = content
	out.ToolCalls = acc.finish()
	return out, nil
}

// toolCallAccumulator assembles streamed tool-call fragments by index.
type toolCallAccumulator struct {
	calls []ToolCall
	args  []string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{}
}

func (a *toolCallAccumulator) add(deltas []openai.ToolCall) {
	for _, d := range deltas {
		idx := 0
		if d.Index != nil {
			idx = *d.Index
		}
		for len(a.calls) <= idx {
			a.calls = append(a.calls, ToolCall{})
			a.args = append(a.args, "")
		}
		if d.ID != "" {
			a.calls[idx].ID = d.ID
		}
		if d.Function.Name != "" {
			a.calls[idx].Name += d.Function.Name
		}
		a.args[idx] += d.Function.Arguments
	}
}

func (a *toolCallAccumulator) finish() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(a.calls))
	for i, c := range a.calls {
		c.Arguments = []byte(a.args[i])
		out[i] = c
	}
	return out
}

// convertToOpenAIMessages converts ChatMessage values, including assistant
// tool calls and tool result messages.
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		if msg.ToolCallID != "" {
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		result[i] = oaiMsg
	}
	return result
}

// convertToOpenAITools converts tool definitions to OpenAI format.
func convertToOpenAITools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
