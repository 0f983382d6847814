package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// toolOnlyReply is sent when the model requested tools but wrote no reply.
const toolOnlyReply = "I'm taking care of that for you now."

type toolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireReply struct {
	Reply      *string         `json:"reply"`
	Confidence json.RawMessage `json:"confidence"`
	ToolCalls  []toolCall      `json:"tool_calls"`
}

type parsedReply struct {
	Text       string
	Confidence float64
	Calls      []toolCall
}

// parseReply decodes the JSON reply protocol. Replies that are not JSON,
// even after repair, are used verbatim at DefaultConfidence.
func parseReply(content string) parsedReply {
	text := stripFences(strings.TrimSpace(content))

	w, ok := decode(text)
	if !ok {
		if repaired, err := jsonrepair.JSONRepair(text); err == nil {
			w, ok = decode(repaired)
		}
	}
	if !ok {
		return parsedReply{Text: strings.TrimSpace(content), Confidence: DefaultConfidence}
	}

	out := parsedReply{
		Confidence: confidence(w.Confidence),
		Calls:      w.ToolCalls,
	}
	if w.Reply != nil {
		out.Text = strings.TrimSpace(*w.Reply)
	}
	for i, c := range out.Calls {
		out.Calls[i].Arguments = unquoteArguments(c.Arguments)
	}
	if out.Text == "" {
		out.Text = toolOnlyReply
	}
	return out
}

// decode accepts only objects that look like the reply protocol.
func decode(text string) (wireReply, bool) {
	var w wireReply
	if !strings.HasPrefix(text, "{") {
		return w, false
	}
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return w, false
	}
	if w.Reply == nil && len(w.ToolCalls) == 0 {
		return w, false
	}
	return w, true
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func confidence(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DefaultConfidence
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return DefaultConfidence
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return DefaultConfidence
		}
	}
	return clamp(f)
}

func clamp(f float64) float64 {
	switch {
	case f != f:
		return DefaultConfidence
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// unquoteArguments unwraps arguments sent as a JSON-encoded string.
func unquoteArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return raw
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return raw
	}
	return json.RawMessage(s)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
