// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/capitalize-ai/support-desk/internal/llm"
)

// Reply is one scripted answer. Either Content or Err is used.
type Reply struct {
	Content string
	Err     error
}

// Client replays scripted replies in order and records every request.
// Once the script is exhausted the last reply repeats. Respond, when set,
// takes precedence over the script.
type Client struct {
	Respond func(ctx context.Context, req *llm.CompletionRequest) (string, error)

	mu       sync.Mutex
	script   []Reply
	requests []*llm.CompletionRequest
}

// New returns a Client that answers with replies in order.
func New(replies ...Reply) *Client {
	return &Client{script: replies}
}

// Text returns a Client that always answers content.
func Text(content string) *Client {
	return New(Reply{Content: content})
}

// Failing returns a Client whose every call fails with err.
func Failing(err error) *Client {
	return New(Reply{Err: err})
}

func (c *Client) Name() string { return "fake" }

func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	var reply Reply
	if len(c.script) > 0 {
		reply = c.script[0]
		if len(c.script) > 1 {
			c.script = c.script[1:]
		}
	}
	respond := c.Respond
	c.mu.Unlock()

	if respond != nil {
		content, err := respond(ctx, req)
		reply = Reply{Content: content, Err: err}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{
		Content:    reply.Content,
		Model:      "fake-model",
		TokensIn:   len(req.System) / 4,
		TokensOut:  len(reply.Content) / 4,
		StopReason: "end_turn",
	}, nil
}

// Requests returns the requests received so far.
func (c *Client) Requests() []*llm.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), c.requests...)
}
