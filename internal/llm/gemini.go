package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiClient talks to Google Gemini through langchaingo.
type GeminiClient struct {
	llm          llms.Model
	defaultModel string
	maxTokens    int
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, opts Options) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	model := opts.model(defaultGeminiModel)
	maxTokens := opts.maxTokens()

	gm, err := googleai.New(ctx,
		googleai.WithAPIKey(opts.APIKey),
		googleai.WithDefaultModel(model),
		googleai.WithDefaultMaxTokens(maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{llm: gm, defaultModel: model, maxTokens: maxTokens}, nil
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return string(ProviderGemini)
}

func (c *GeminiClient) content(req *CompletionRequest) []llms.MessageContent {
	parts := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		parts = append(parts, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, msg := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if msg.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		parts = append(parts, llms.TextParts(role, msg.Content))
	}
	return parts
}

func (c *GeminiClient) options(req *CompletionRequest) []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithModel(pick(req.Model, c.defaultModel)),
		llms.WithMaxTokens(pickInt(req.MaxTokens, c.maxTokens)),
		llms.WithJSONMode(),
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	return opts
}

// Complete sends a completion request.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	resp, err := c.llm.GenerateContent(ctx, c.content(req), c.options(req)...)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("gemini returned no choices")
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:    choice.Content,
		Model:      pick(req.Model, c.defaultModel),
		TokensIn:   generationInt(choice.GenerationInfo, "input_tokens"),
		TokensOut:  generationInt(choice.GenerationInfo, "output_tokens"),
		StopReason: choice.StopReason,
	}, nil
}

func generationInt(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
