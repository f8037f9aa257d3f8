// ABOUTME: OpenAI-compatible model provider built on sashabaranov/go-openai
// ABOUTME: Non-streaming chat completions with tool calling and linear retry

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lanternlabs/lantern/internal/agent"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// OpenAIProvider implements agent.Provider against any OpenAI-compatible
// chat completion endpoint. Safe for concurrent use.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a provider. An empty baseURL uses the official
// API; a non-empty one points at a compatible endpoint (proxy, local
// model, alternate vendor).
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}, nil
}

// Decide runs one non-streaming chat completion and maps the response to a
// Decision. Transient API failures are retried with linear backoff.
func (p *OpenAIProvider) Decide(ctx context.Context, messages []agent.ChatMessage, tools []agent.ToolDefinition, params agent.DecideParams) (*agent.Decision, error) {
	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    convertMessages(messages),
		Temperature: params.Temperature,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		resp, lastErr = p.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("chat completion: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("chat completion after %d attempts: %w", p.maxRetries, lastErr)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	decision := &agent.Decision{
		Content:          choice.Content,
		ReasoningContent: choice.ReasoningContent,
	}

	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			// Malformed arguments become an empty map; the tool reports the
			// missing inputs as result text and the model can retry.
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		decision.ToolCalls = append(decision.ToolCalls, agent.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return decision, nil
}

func convertMessages(messages []agent.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oai := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		switch msg.Role {
		case agent.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
		case agent.RoleTool:
			oai.ToolCallID = msg.ToolCallID
			oai.Name = msg.Name
		}
		out = append(out, oai)
	}
	return out
}

func convertTools(tools []agent.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

// isRetryable reports whether an API error is worth another attempt: rate
// limits, 5xx responses and timeouts.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
