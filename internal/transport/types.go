package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pepe/internal/trigger"
)

// Message is an inbound platform message in a platform-neutral shape.
type Message struct {
	Platform       string
	ConversationID string
	MessageID      string
	AuthorID       string
	AuthorName     string
	Text           string
	IsMention      bool
	At             time.Time
}

// Context exposes the message metadata to trigger handlers.
func (m Message) Context() trigger.Context {
	return trigger.Context{
		trigger.KeyPlatform:       m.Platform,
		trigger.KeyConversationID: m.ConversationID,
		trigger.KeyMessageID:      m.MessageID,
		trigger.KeyAuthorID:       m.AuthorID,
		trigger.KeyAuthorName:     m.AuthorName,
		trigger.KeyIsMention:      m.IsMention,
	}
}

// FromContext rebuilds a Message from a trigger context and its text.
func FromContext(text string, mctx trigger.Context) Message {
	return Message{
		Platform:       mctx.String(trigger.KeyPlatform),
		ConversationID: mctx.String(trigger.KeyConversationID),
		MessageID:      mctx.String(trigger.KeyMessageID),
		AuthorID:       mctx.String(trigger.KeyAuthorID),
		AuthorName:     mctx.String(trigger.KeyAuthorName),
		Text:           text,
		IsMention:      mctx.IsMention(),
	}
}

// Adapter connects pepe to one chat platform.
//
// Start must not block; inbound messages are pushed to out without blocking
// (a full channel drops). Send must be safe for concurrent use.
type Adapter interface {
	Name() string
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, conversationID, text string) error
}

// Registry holds the adapters started by the runner, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: map[string]Adapter{}}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	r.adapters[a.Name()] = a
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// All returns adapters sorted by name.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Names() []string {
	all := r.All()
	out := make([]string, len(all))
	for i, a := range all {
		out[i] = a.Name()
	}
	return out
}

// Send delivers text through the named platform.
func (r *Registry) Send(ctx context.Context, platform, conversationID, text string) error {
	a, ok := r.Get(platform)
	if !ok {
		return fmt.Errorf("transport: platform %q not connected", platform)
	}
	return a.Send(ctx, conversationID, text)
}

// SplitText cuts s into chunks of at most limit runes, preferring newline
// boundaries when one falls in the last two thirds of a window.
func SplitText(s string, limit int) []string {
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
