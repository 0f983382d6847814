// Package gateway turns conversation context into a single AI responder call
// and normalizes whatever comes back into a reply and typed tool requests.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/knowledge"
	"github.com/capitalize-ai/support-desk/internal/llm"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/tool"
	"github.com/capitalize-ai/support-desk/pkg/logger"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
	"github.com/capitalize-ai/support-desk/pkg/tracing"
)

// FallbackText is the reply used whenever the AI responder is unavailable.
const FallbackText = "I apologize, but I'm experiencing technical difficulties. Let me connect you with a human agent."

// DefaultConfidence applies to replies that carry no usable confidence.
const DefaultConfidence = 0.85

// Config tunes the gateway.
type Config struct {
	Model           string
	Timeout         time.Duration
	HistoryLimit    int
	MaxMessageChars int
	KnowledgeTopK   int
	MaxTokens       int
	Temperature     float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		HistoryLimit:    50,
		MaxMessageChars: 2000,
		KnowledgeTopK:   3,
		MaxTokens:       1024,
		Temperature:     0.3,
	}
}

// Request is everything the responder is told about a turn.
type Request struct {
	Conversation *model.Conversation
	// Customer is nil when the customer record is unknown.
	Customer *model.Customer
	// Prompt is the system prompt bound to the conversation, if any.
	Prompt *model.SystemPrompt
	// History holds the stored messages, oldest first, without Message.
	History []model.Message
	Message string
}

// Response is the normalized responder output. When Fallback is set, Text is
// FallbackText, Tools is empty and Err wraps apperr.ErrUpstreamUnavailable.
type Response struct {
	Text       string
	Confidence float64
	Model      string
	Tools      []tool.Request
	Dropped    int
	Fallback   bool
	Err        error
	Latency    time.Duration
	TokensIn   int
	TokensOut  int
}

// ConfidencePercent returns the confidence on a 0 to 100 scale.
func (r Response) ConfidencePercent() int {
	return int(r.Confidence*100 + 0.5)
}

// Gateway calls the AI responder.
type Gateway struct {
	client   llm.Client
	searcher knowledge.Searcher
	cfg      Config
	logger   *logger.Logger
}

// New creates a Gateway. A nil searcher disables knowledge grounding.
func New(client llm.Client, searcher knowledge.Searcher, cfg Config, log *logger.Logger) *Gateway {
	if searcher == nil {
		searcher = knowledge.Nop{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Gateway{client: client, searcher: searcher, cfg: cfg, logger: log.Named("gateway")}
}

// Respond asks the responder for a reply. It never returns an error: any
// provider failure, timeout or empty answer yields a fallback Response.
func (g *Gateway) Respond(ctx context.Context, req Request) Response {
	ctx, span := tracing.Tracer("support-desk/gateway").Start(ctx, "gateway.Respond")
	defer span.End()

	start := time.Now()
	resp := g.respond(ctx, req)
	resp.Latency = time.Since(start)

	status := "ok"
	if resp.Fallback {
		status = "fallback"
		span.SetStatus(codes.Error, resp.Err.Error())
		g.logger.Warn("ai responder unavailable, using fallback", zap.Error(resp.Err))
	}
	span.SetAttributes(
		attribute.String("ai.model", resp.Model),
		attribute.Bool("ai.fallback", resp.Fallback),
		attribute.Int("ai.tools", len(resp.Tools)),
	)
	metrics.RecordAIResponse(resp.Model, status, resp.Latency.Seconds(), resp.TokensIn, resp.TokensOut)
	return resp
}

func (g *Gateway) respond(ctx context.Context, req Request) Response {
	if g.client == nil {
		return g.fallback(errors.New("no ai provider configured"))
	}

	prompt, err := g.buildPrompt(req, g.snippets(ctx, req))
	if err != nil {
		return g.fallback(fmt.Errorf("build prompt: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	out, err := g.client.Complete(callCtx, &llm.CompletionRequest{
		Model:       g.cfg.Model,
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return g.fallback(err)
	}
	if out == nil || isBlank(out.Content) {
		return g.fallback(errors.New("empty response from ai provider"))
	}

	parsed := parseReply(out.Content)
	resp := Response{
		Text:       parsed.Text,
		Confidence: parsed.Confidence,
		Model:      g.modelName(out.Model),
		TokensIn:   out.TokensIn,
		TokensOut:  out.TokensOut,
	}
	for _, call := range parsed.Calls {
		r, err := tool.Decode(call.Name, call.Arguments)
		if err != nil {
			resp.Dropped++
			metrics.ToolCallsDropped.WithLabelValues(dropLabel(call.Name)).Inc()
			g.logger.Warn("dropping malformed tool call",
				zap.String("tool", call.Name),
				zap.Error(err),
			)
			continue
		}
		resp.Tools = append(resp.Tools, r)
	}
	return resp
}

func (g *Gateway) snippets(ctx context.Context, req Request) []knowledge.Snippet {
	if g.cfg.KnowledgeTopK <= 0 || req.Conversation == nil {
		return nil
	}
	found, err := g.searcher.Search(ctx, req.Conversation.TenantID, req.Message, g.cfg.KnowledgeTopK)
	if err != nil {
		g.logger.Warn("knowledge search failed", zap.Error(err))
		return nil
	}
	return found
}

func (g *Gateway) fallback(err error) Response {
	return Response{
		Text:       FallbackText,
		Confidence: 0,
		Model:      g.modelName(""),
		Fallback:   true,
		Err:        apperr.Upstream(err),
	}
}

func (g *Gateway) modelName(reported string) string {
	switch {
	case reported != "":
		return reported
	case g.cfg.Model != "":
		return g.cfg.Model
	case g.client != nil:
		return g.client.Name()
	}
	return "none"
}

func dropLabel(name string) string {
	if n, ok := tool.Canonical(name); ok {
		return string(n)
	}
	return "unknown"
}
