// Package llm generates persona text through OpenAI-compatible chat APIs.
package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrEmptyCompletion = errors.New("llm: empty completion")
	ErrNoProviders     = errors.New("llm: no providers configured")
)

type Message struct {
	Role    string
	Content string
}

// Request is one generation. System goes first, then History, then Prompt as
// the final user message.
type Request struct {
	System      string
	History     []Message
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Messages flattens the request in send order.
func (r Request) Messages() []Message {
	out := make([]Message, 0, len(r.History)+2)
	if r.System != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.System})
	}
	out = append(out, r.History...)
	return append(out, Message{Role: RoleUser, Content: r.Prompt})
}

// Generator produces a completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
