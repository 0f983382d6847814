// Package tool defines the support tools the AI responder may request and
// decodes their arguments into typed, validated requests.
package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/capitalize-ai/support-desk/internal/apperr"
	"github.com/capitalize-ai/support-desk/internal/model"
)

// Name is the name a tool is invoked by.
type Name string

const (
	NameRefund       Name = "refund"
	NameSubscription Name = "subscription"
	NameEscalate     Name = "escalate"
)

// Names lists every supported tool.
var Names = []Name{NameRefund, NameSubscription, NameEscalate}

// Request is a decoded tool invocation. The set of implementations is closed:
// Refund, Subscription and Escalate.
type Request interface {
	// Tool returns the tool name.
	Tool() Name
	// ActionType returns the action type recorded in the support action log.
	ActionType() string
	// Data returns the arguments as stored in action_data.
	Data() map[string]any

	sealed()
}

// Refund asks for a refund of an order.
type Refund struct {
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason" validate:"required,max=1000"`
	OrderID string          `json:"order_id" validate:"required,max=255"`
}

func (Refund) Tool() Name         { return NameRefund }
func (Refund) ActionType() string { return model.ActionTypeRefund }
func (Refund) sealed()            {}

func (r Refund) Data() map[string]any {
	return map[string]any{
		"amount":   r.Amount.StringFixed(2),
		"reason":   r.Reason,
		"order_id": r.OrderID,
	}
}

// SubscriptionOp is an operation on a customer's subscription.
type SubscriptionOp string

const (
	OpCancel     SubscriptionOp = "cancel"
	OpPause      SubscriptionOp = "pause"
	OpChangePlan SubscriptionOp = "change_plan"
)

// Subscription asks to cancel, pause or re-plan the customer's subscription.
type Subscription struct {
	Action  SubscriptionOp `json:"action" validate:"required,oneof=cancel pause change_plan"`
	NewPlan string         `json:"new_plan,omitempty" validate:"required_if=Action change_plan,max=100"`
}

func (Subscription) Tool() Name           { return NameSubscription }
func (s Subscription) ActionType() string { return model.ActionTypeSubscriptionPrefix + string(s.Action) }
func (Subscription) sealed()              {}

func (s Subscription) Data() map[string]any {
	d := map[string]any{"action": string(s.Action)}
	if s.Action == OpChangePlan {
		d["new_plan"] = s.NewPlan
	}
	return d
}

// Escalate hands the conversation to a human agent.
type Escalate struct {
	Reason  string `json:"reason" validate:"required,max=1000"`
	Summary string `json:"summary,omitempty" validate:"max=4000"`
}

func (Escalate) Tool() Name         { return NameEscalate }
func (Escalate) ActionType() string { return model.ActionTypeEscalate }
func (Escalate) sealed()            {}

func (e Escalate) Data() map[string]any {
	return map[string]any{
		"reason":  e.Reason,
		"summary": e.Summary,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Canonical resolves a tool or action name, including the legacy aliases
// models tend to produce, to a tool name.
func Canonical(name string) (Name, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "refund", "process_refund":
		return NameRefund, true
	case "subscription", "manage_subscription":
		return NameSubscription, true
	case "escalate", "escalate_to_human":
		return NameEscalate, true
	}
	return "", false
}

// Decode parses raw JSON arguments for the named tool and validates them.
func Decode(name string, raw json.RawMessage) (Request, error) {
	canonical, ok := Canonical(name)
	if !ok {
		return nil, apperr.InvalidArgument("unknown tool %q", name)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var req Request
	switch canonical {
	case NameRefund:
		var r Refund
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, apperr.InvalidArgument("refund arguments: %v", err)
		}
		req = r
	case NameSubscription:
		var s Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, apperr.InvalidArgument("subscription arguments: %v", err)
		}
		s.Action = SubscriptionOp(strings.ToLower(strings.TrimSpace(string(s.Action))))
		s.NewPlan = strings.TrimSpace(s.NewPlan)
		req = s
	case NameEscalate:
		var e Escalate
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, apperr.InvalidArgument("escalate arguments: %v", err)
		}
		req = e
	}

	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// FromArguments decodes a tool request from an already-parsed argument map.
func FromArguments(name string, args map[string]any) (Request, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, apperr.InvalidArgument("arguments: %v", err)
	}
	return Decode(name, raw)
}

// Validate checks the argument shape of a request.
func Validate(req Request) error {
	if req == nil {
		return apperr.InvalidArgument("missing tool request")
	}
	if err := validate.Struct(req); err != nil {
		return apperr.InvalidArgument("%s: %s", req.Tool(), describe(err))
	}
	if r, ok := req.(Refund); ok && !r.Amount.IsPositive() {
		return apperr.InvalidArgument("refund: amount must be positive")
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
