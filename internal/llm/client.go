// Package llm adapts hosted model providers to a single completion call.
package llm

import (
	"context"
	"fmt"
)

// Provider names a hosted model API.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of the prompt.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks for one reply. Zero Model, MaxTokens or
// Temperature fall back to the client's defaults.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the provider's reply with token usage.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
}

// Client is implemented by every provider adapter.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// Name is the provider name, used when the reply names no model.
	Name() string
}

// Options configure a provider client.
type Options struct {
	APIKey       string
	DefaultModel string
	MaxTokens    int
}

func (o Options) model(fallback string) string {
	if o.DefaultModel == "" {
		return fallback
	}
	return o.DefaultModel
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return 4096
	}
	return o.MaxTokens
}

// NewClient creates the client for provider.
func NewClient(ctx context.Context, provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts)
	case ProviderOpenAI:
		return NewOpenAIClient(opts)
	case ProviderGemini:
		return NewGeminiClient(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

func pick(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func pickInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
