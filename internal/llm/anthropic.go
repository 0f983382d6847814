package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	client       *anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(opts Options) (*AnthropicClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(option.WithAPIKey(opts.APIKey), option.WithMaxRetries(1)),
		defaultModel: opts.model(defaultAnthropicModel),
		maxTokens:    opts.maxTokens(),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string { return string(ProviderAnthropic) }

func textBlock(s string) anthropic.TextBlockParam {
	return anthropic.TextBlockParam{
		Type: anthropic.F(anthropic.TextBlockParamTypeText),
		Text: anthropic.F(s),
	}
}

func (c *AnthropicClient) params(req *CompletionRequest) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := anthropic.MessageParamRoleUser
		if msg.Role == RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.F(role),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{textBlock(msg.Content)}),
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.F(pick(req.Model, c.defaultModel)),
		MaxTokens: anthropic.F(int64(pickInt(req.MaxTokens, c.maxTokens))),
		Messages:  anthropic.F(messages),
	}
	if req.System != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{textBlock(req.System)})
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.F(req.Temperature)
	}
	return params
}

// Complete sends a completion request. Only text blocks are kept.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.client.Messages.New(ctx, c.params(req))
	if err != nil {
		return nil, err
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content.WriteString(block.Text)
		}
	}
	return &CompletionResponse{
		Content:    content.String(),
		Model:      string(resp.Model),
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
	}, nil
}
