package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// Message roles understood by OpenAI-compatible chat endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Contents extracts the message bodies, in order, for token accounting.
func Contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// CompletionRequest is one concrete chat completion attempt.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int

	// JSONFormat requests response_format {"type": "json_object"}.
	JSONFormat bool
}

// CompletionResult is the useful subset of a chat completion response.
type CompletionResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// CompletionClient performs one chat completion against a single backend.
// The dispatcher owns retries, rate limiting, and error classification.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// ClientFactory builds a CompletionClient for a provider descriptor. Tests
// substitute fakes here.
type ClientFactory func(spec *config.ProviderSpec) CompletionClient

// openaiClient is the production CompletionClient over openai-go.
type openaiClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient builds the production client for one provider.
func NewOpenAIClient(spec *config.ProviderSpec) CompletionClient {
	opts := []option.RequestOption{
		option.WithAPIKey(spec.APIKey),
		option.WithBaseURL(spec.BaseURL),
		// Disable SDK-internal retries: retry policy lives in the
		// dispatcher where it can coordinate with the rate limiter.
		option.WithMaxRetries(0),
	}
	if spec.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: spec.Timeout}))
	}
	return &openaiClient{
		client: openai.NewClient(opts...),
		model:  spec.Model,
	}
}

// Complete implements CompletionClient.
func (c *openaiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Kind: KindEmpty, Err: fmt.Errorf("no choices in response")}
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, &ProviderError{Kind: KindEmpty, Err: fmt.Errorf("empty content in response")}
	}

	return &CompletionResult{
		Content:          content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// convertMessages maps our messages onto SDK params.
func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
