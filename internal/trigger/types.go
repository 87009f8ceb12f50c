package trigger

import (
	"context"
	"errors"
	"fmt"
)

// Well-known Context keys set by platform adapters.
const (
	KeyPlatform       = "platform"
	KeyConversationID = "conversation_id"
	KeyAuthorID       = "author_id"
	KeyAuthorName     = "author_name"
	KeyMessageID      = "message_id"
	KeyIsMention      = "is_mention"
)

// Context carries metadata about an inbound message. Missing keys are normal.
type Context map[string]any

// IsMention reports whether the message addressed the agent. Only a boolean
// true counts.
func (c Context) IsMention() bool {
	v, ok := c[KeyIsMention].(bool)
	return ok && v
}

// String returns the value under key formatted as a string, or "".
func (c Context) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Handler reacts to a matched message. It may block on I/O.
type Handler func(ctx context.Context, message string, mctx Context) error

type Kind int

const (
	KindKeyword Kind = iota
	KindMention
)

func (k Kind) String() string {
	switch k {
	case KindKeyword:
		return "keyword"
	case KindMention:
		return "mention"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var ErrNoKeywords = errors.New("keyword trigger needs at least one keyword")

type rule struct {
	id            int
	name          string
	kind          Kind
	keywords      []string
	caseSensitive bool
	handler       Handler
}

// RuleInfo describes a registered rule for status output.
type RuleInfo struct {
	ID            int      `json:"id"`
	Name          string   `json:"name,omitempty"`
	Kind          Kind     `json:"kind"`
	Keywords      []string `json:"keywords,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

// Event is the payload of trigger.fired and trigger.failed events.
type Event struct {
	Rule     int    `json:"rule"`
	Name     string `json:"name,omitempty"`
	Kind     Kind   `json:"kind"`
	Platform string `json:"platform,omitempty"`
	Err      string `json:"err,omitempty"`
}
