package memory

import (
	"context"
	"errors"
	"time"
)

const DefaultMaxHistory = 20

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrClosed = errors.New("memory store closed")

// Config configures the conversation store.
type Config struct {
	Driver      string
	Path        string
	MaxHistory  int
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func (c Config) limit() int {
	if c.MaxHistory <= 0 {
		return DefaultMaxHistory
	}
	return c.MaxHistory
}

// Turn is one message in a conversation.
type Turn struct {
	Role    string            `json:"role"`
	Content string            `json:"content"`
	At      time.Time         `json:"timestamp"`
	Meta    map[string]string `json:"metadata,omitempty"`
}

// Store is the conversation history API used by the agent and runner.
//
// History returns at most lastN of the newest turns, oldest first; lastN <= 0
// returns everything kept. Save flushes to durable storage where the driver
// buffers.
type Store interface {
	Add(ctx context.Context, conversationID string, t Turn) error
	History(ctx context.Context, conversationID string, lastN int) ([]Turn, error)
	Clear(ctx context.Context, conversationID string) error
	Conversations(ctx context.Context) ([]string, error)
	Save(ctx context.Context) error
	Close() error
}
