package gateway

import (
	"bytes"
	"text/template"

	"github.com/capitalize-ai/support-desk/internal/knowledge"
	"github.com/capitalize-ai/support-desk/internal/model"
	"github.com/capitalize-ai/support-desk/internal/tool"
)

const defaultInstructions = `You are a helpful customer support agent. Be empathetic, concise and accurate.
If you cannot resolve the issue, or the customer asks for a person, escalate to a human agent.`

var promptTemplate = template.Must(template.New("prompt").Parse(`{{.Instructions}}

Customer context:
- Email: {{.CustomerEmail}}
- Name: {{if .CustomerName}}{{.CustomerName}}{{else}}unknown{{end}}
- Subscription status: {{.SubscriptionStatus}}
- Subscription plan: {{.SubscriptionPlan}}
{{if .Snippets}}
Relevant knowledge base articles:
{{range .Snippets}}--- {{.Title}}
{{.Content}}
{{end}}{{end}}{{if .History}}
Conversation so far (oldest first):
{{range .History}}[{{.Role}}] {{.Content}}
{{end}}{{end}}
Customer's new message:
{{.Message}}

Available tools:
{{range .Tools}}- {{.Name}}: {{.Description}} Arguments: {{.Arguments}}
{{end}}
Respond with a single JSON object and nothing else:
{"reply": "<message to the customer>", "confidence": <number between 0 and 1>, "tool_calls": [{"name": "<tool>", "arguments": {}}]}
Use an empty "tool_calls" list when no action is needed. Only call a tool when the customer clearly asked for it and you have every required argument.
`))

type toolSpec struct {
	Name        tool.Name
	Description string
	Arguments   string
}

var toolCatalogue = []toolSpec{
	{
		Name:        tool.NameRefund,
		Description: "Refund an order for the customer.",
		Arguments:   `{"amount": number > 0, "reason": string, "order_id": string}`,
	},
	{
		Name:        tool.NameSubscription,
		Description: "Cancel, pause or change the plan of the customer's subscription.",
		Arguments:   `{"action": "cancel" | "pause" | "change_plan", "new_plan": string (required for change_plan)}`,
	},
	{
		Name:        tool.NameEscalate,
		Description: "Hand the conversation to a human agent.",
		Arguments:   `{"reason": string, "summary": string}`,
	},
}

type historyLine struct {
	Role    string
	Content string
}

type promptData struct {
	Instructions       string
	CustomerEmail      string
	CustomerName       string
	SubscriptionStatus string
	SubscriptionPlan   string
	Snippets           []knowledge.Snippet
	History            []historyLine
	Message            string
	Tools              []toolSpec
}

func (g *Gateway) buildPrompt(req Request, snippets []knowledge.Snippet) (string, error) {
	data := promptData{
		Instructions:       defaultInstructions,
		SubscriptionStatus: model.SubscriptionUnknown,
		SubscriptionPlan:   model.PlanNone,
		Snippets:           snippets,
		Message:            truncate(req.Message, g.cfg.MaxMessageChars),
		Tools:              toolCatalogue,
	}
	if req.Prompt != nil && req.Prompt.Content != "" {
		data.Instructions = req.Prompt.Content
	}
	if req.Conversation != nil {
		data.CustomerEmail = req.Conversation.CustomerEmail
		data.CustomerName = req.Conversation.CustomerName
	}
	if c := req.Customer; c != nil {
		if c.Name != "" {
			data.CustomerName = c.Name
		}
		data.SubscriptionStatus = c.SubscriptionStatus
		data.SubscriptionPlan = c.SubscriptionPlan
	}

	history := req.History
	if limit := g.cfg.HistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, m := range history {
		data.History = append(data.History, historyLine{
			Role:    historyRole(m.SenderType),
			Content: truncate(m.Content, g.cfg.MaxMessageChars),
		})
	}

	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func historyRole(s model.SenderType) string {
	switch s {
	case model.SenderAI:
		return "assistant"
	case model.SenderHumanAgent:
		return "agent"
	case model.SenderSystem:
		return "system"
	default:
		return "customer"
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
