package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-desk/internal/action"
	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/conversation"
	"github.com/capitalize-ai/support-desk/internal/gateway"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/store"
	"github.com/capitalize-ai/support-desk/pkg/metrics"
	"github.com/capitalize-ai/support-desk/pkg/tracing"
)

// MaxMessageBytes bounds the size of a customer message.
const MaxMessageBytes = 100 * 1024

// Turn outcomes recorded in metrics.
const (
	outcomeOK       = "ok"
	outcomeFallback = "fallback"
	outcomeNoAI     = "ai_disabled"
	outcomeError    = "error"
)

// Orchestrator handles customer messages: it records them, asks the AI
// responder for a reply, runs the requested support actions and records the
// reply, all as one atomic turn per conversation.
type Orchestrator struct {
	core
	responder Responder
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	return &Orchestrator{core: newCore(deps, "orchestrator"), responder: deps.Responder}
}

// turnContext is what a turn reads before calling the responder.
type turnContext struct {
	conv     *model.Conversation
	history  []model.Message
	customer *model.Customer
	prompt   *model.SystemPrompt
}

// HandleCustomerMessage runs one conversational turn. AI provider failures
// never fail the turn: the reply is the fallback text and Error is set on the
// result. Executor failures are reported in TurnResult.Actions. Persistence
// failures abort the turn and nothing of it is kept.
//
// Caller cancellation is ignored once the message is accepted.
func (o *Orchestrator) HandleCustomerMessage(ctx context.Context, tenantID, sessionID, content string) (*model.TurnResult, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	ctx, span := tracing.Tracer("support-desk/service").Start(ctx, "orchestrator.HandleCustomerMessage")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", tenantID), attribute.String("session.id", sessionID))

	start := time.Now()
	var result *model.TurnResult
	err := o.locked(ctx, tenantID, sessionID, func(ctx context.Context) error {
		var err error
		result, err = o.turn(ctx, tenantID, sessionID, content)
		return err
	})

	outcome := turnOutcome(result, err)
	metrics.RecordTurn(outcome, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.ForConversation(tenantID, sessionID).Error("customer message turn failed", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("turn.outcome", outcome), attribute.Int("turn.actions", len(result.Actions)))
	return result, nil
}

func (o *Orchestrator) turn(ctx context.Context, tenantID, sessionID, content string) (*model.TurnResult, error) {
	tc, err := o.load(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	before := tc.conv.Status

	var resp *gateway.Response
	if tc.conv.AIEnabled {
		r := o.responder.Respond(ctx, gateway.Request{
			Conversation: tc.conv,
			Customer:     tc.customer,
			Prompt:       tc.prompt,
			History:      tc.history,
			Message:      content,
		})
		resp = &r
	}

	var (
		result  *model.TurnResult
		conv    *model.Conversation
		written []*model.Message
	)
	err = o.store.WithTx(ctx, func(q store.Queries) error {
		conv = tc.conv.Clone()
		customerMsg := conversation.NewMessage(conv, model.SenderCustomer, content)
		customerMsg.SenderID = conv.CustomerEmail
		customerMsg.SenderName = conv.CustomerName
		if err := o.machine.Append(ctx, q, conv, customerMsg); err != nil {
			return err
		}
		written = []*model.Message{customerMsg}
		result = &model.TurnResult{SessionID: conv.SessionID, CustomerMessageID: customerMsg.ID}
		if resp == nil {
			return nil
		}

		var notes []*model.Message
		target := action.Target{Queries: q, Conversation: conv}
		for _, req := range resp.Tools {
			out, err := o.dispatcher.Dispatch(ctx, target, req)
			if err != nil && !apperr.Recoverable(err) {
				return fmt.Errorf("execute %s: %w", req.Tool(), err)
			}
			if err != nil {
				o.logger.Warn("support action failed",
					zap.String("session_id", sessionID),
					zap.String("tool", string(req.Tool())),
					zap.Error(err),
				)
			}
			result.Actions = append(result.Actions, action.Report(req, out, err))
			if out.Note != nil {
				notes = append(notes, out.Note)
			}
		}

		aiMsg := aiMessage(conv, resp, result.Actions)
		msgs := append([]*model.Message{aiMsg}, notes...)
		if err := o.machine.Append(ctx, q, conv, msgs...); err != nil {
			return err
		}
		written = append(written, msgs...)

		confidence := resp.Confidence
		result.AIMessageID = aiMsg.ID
		result.AIResponse = aiMsg.Content
		result.Confidence = &confidence
		if resp.Fallback {
			result.Error = true
			result.ErrorMessage = resp.Err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Status = conv.Status

	o.afterCommit(ctx, conv, before, resp, result, written)
	return result, nil
}

// load reads the conversation and everything the responder is told about it.
func (o *Orchestrator) load(ctx context.Context, tenantID, sessionID string) (*turnContext, error) {
	conv, err := o.store.GetConversation(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.StatusArchived {
		return nil, apperr.NotFound("conversation %s", sessionID)
	}
	tc := &turnContext{conv: conv}

	if tc.history, err = o.store.ListMessages(ctx, tenantID, conv.ID); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if tc.customer, err = optional(o.store.GetCustomer(ctx, tenantID, conv.CustomerEmail)); err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	if conv.SystemPromptID != nil {
		tc.prompt, err = optional(o.store.GetSystemPrompt(ctx, tenantID, *conv.SystemPromptID))
	} else {
		tc.prompt, err = optional(o.store.GetDefaultSystemPrompt(ctx, tenantID))
	}
	if err != nil {
		return nil, fmt.Errorf("load system prompt: %w", err)
	}
	return tc, nil
}

func (o *Orchestrator) afterCommit(ctx context.Context, conv *model.Conversation, before model.Status, resp *gateway.Response, result *model.TurnResult, written []*model.Message) {
	countMessages(conv, written...)
	for _, a := range result.Actions {
		metrics.RecordAction(a.ActionType, string(a.Status))
		o.publish(ctx, conv, model.EventTypeActionExecuted, "", map[string]any{
			"action_id":   a.ActionID,
			"action_type": a.ActionType,
			"status":      string(a.Status),
		})
	}
	if resp != nil && resp.Fallback {
		o.publish(ctx, conv, model.EventTypeAIFallback, resp.Err.Error(), nil)
	}
	if before != model.StatusEscalated && conv.Status == model.StatusEscalated {
		o.publish(ctx, conv, model.EventTypeEscalated, "ai_tool", nil)
	}
	o.publish(ctx, conv, model.EventTypeTurnCompleted, "", map[string]any{
		"message_id":    result.CustomerMessageID,
		"ai_message_id": result.AIMessageID,
		"status":        string(conv.Status),
	})

	o.logger.ForConversation(conv.TenantID, conv.SessionID).Info("customer message handled",
		zap.Int("actions", len(result.Actions)),
		zap.Bool("fallback", result.Error),
		zap.String("status", string(conv.Status)),
	)
}

// aiMessage builds the reply message for resp. Tool outcomes travel in its
// metadata.
func aiMessage(conv *model.Conversation, resp *gateway.Response, outcomes []model.ActionOutcome) *model.Message {
	msg := conversation.NewMessage(conv, model.SenderAI, resp.Text)
	modelName := resp.Model
	percent := resp.ConfidencePercent()
	elapsed := resp.Latency.Milliseconds()
	msg.AIModel = &modelName
	msg.AIConfidence = &percent
	msg.ProcessingTimeMs = &elapsed

	meta := map[string]any{}
	for _, req := range resp.Tools {
		msg.AIToolsUsed = append(msg.AIToolsUsed, string(req.Tool()))
	}
	if len(outcomes) > 0 {
		meta["actions"] = outcomes
	}
	if resp.Dropped > 0 {
		meta["dropped_tool_calls"] = resp.Dropped
	}
	if resp.Fallback {
		meta["error"] = resp.Err.Error()
		meta["fallback"] = true
	}
	if len(meta) > 0 {
		msg.Metadata = meta
	}
	return msg
}

func validateContent(content string) error {
	switch {
	case isBlank(content):
		return apperr.InvalidArgument("message content is empty")
	case len(content) > MaxMessageBytes:
		return apperr.InvalidArgument("message content exceeds %d bytes", MaxMessageBytes)
	case !utf8.ValidString(content):
		return apperr.InvalidArgument("message content is not valid UTF-8")
	}
	return nil
}

func turnOutcome(result *model.TurnResult, err error) string {
	switch {
	case err != nil:
		return outcomeError
	case result.AIMessageID == "":
		return outcomeNoAI
	case result.Error:
		return outcomeFallback
	}
	return outcomeOK
}
