package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient calls the OpenAI chat completions API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(opts Options) (*OpenAIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	return &OpenAIClient{
		client:       openai.NewClient(opts.APIKey),
		defaultModel: opts.model(defaultOpenAIModel),
		maxTokens:    opts.maxTokens(),
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return string(ProviderOpenAI) }

func (c *OpenAIClient) request(req *CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	return openai.ChatCompletionRequest{
		Model:       pick(req.Model, c.defaultModel),
		Messages:    messages,
		MaxTokens:   pickInt(req.MaxTokens, c.maxTokens),
		Temperature: float32(req.Temperature),
		// The reply is parsed as a JSON object.
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(req))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(choice.FinishReason),
	}, nil
}
