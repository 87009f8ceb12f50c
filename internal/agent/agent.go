package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"pepe/internal/llm"
	"pepe/internal/memory"
	"pepe/internal/transport"
	logx "pepe/pkg/logx"
)

const DefaultHistory = 10

// Sender delivers text to a platform conversation. transport.Registry implements it.
type Sender interface {
	Send(ctx context.Context, platform, conversationID, text string) error
}

// Recaller finds past interactions similar to a message. *memory.Recall implements it.
type Recaller interface {
	AddInteraction(ctx context.Context, conversationID, userMessage, reply string) error
	Similar(ctx context.Context, text string, n int) ([]memory.Interaction, error)
}

type Deps struct {
	Log       logx.Logger
	Generator llm.Generator
	Store     memory.Store
	Recall    Recaller // optional
	Sender    Sender
}

type Option func(*Agent)

// WithRateLimit caps outbound messages per minute; <= 0 disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(a *Agent) {
		if perMinute <= 0 {
			a.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		a.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// WithHistory sets how many stored turns are sent with each reply.
func WithHistory(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.historyN = n
		}
	}
}

type Agent struct {
	log      logx.Logger
	persona  Persona
	gen      llm.Generator
	store    memory.Store
	recall   Recaller
	sender   Sender
	limiter  *rate.Limiter
	historyN int
	pick     func(n int) int
}

func New(p Persona, d Deps, opts ...Option) (*Agent, error) {
	if d.Generator == nil || d.Store == nil || d.Sender == nil {
		return nil, errors.New("agent: generator, store and sender are required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	a := &Agent{
		log:      d.Log,
		persona:  p.normalized(),
		gen:      d.Generator,
		store:    d.Store,
		recall:   d.Recall,
		sender:   d.Sender,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		historyN: DefaultHistory,
		pick:     rand.IntN,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) Persona() Persona { return a.persona }

// ConversationKey namespaces a conversation id by platform for memory.
func ConversationKey(platform, conversationID string) string {
	return platform + ":" + conversationID
}

// Reply answers an inbound message.
func (a *Agent) Reply(ctx context.Context, msg transport.Message) (string, error) {
	return a.Respond(ctx, msg, "")
}

// Respond answers msg, optionally steered by an instruction. The user turn is
// stored before generation and the assistant turn after it.
func (a *Agent) Respond(ctx context.Context, msg transport.Message, instruction string) (string, error) {
	key := ConversationKey(msg.Platform, msg.ConversationID)
	history, err := a.store.History(ctx, key, a.historyN)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	if err := a.store.Add(ctx, key, memory.Turn{
		Role:    memory.RoleUser,
		Content: msg.Text,
		At:      msg.At,
		Meta: map[string]string{
			"author":     msg.AuthorName,
			"author_id":  msg.AuthorID,
			"message_id": msg.MessageID,
		},
	}); err != nil {
		return "", fmt.Errorf("record user turn: %w", err)
	}

	system := a.persona.SystemPrompt
	if lc := a.learningContext(ctx, msg.Text); lc != "" {
		system += "\n\n" + lc
	}
	prompt := msg.Text
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		prompt = instruction + "\n\n" + msg.AuthorName + ": " + msg.Text
	}

	text, err := a.gen.Generate(ctx, llm.Request{
		System:      system,
		History:     toMessages(history),
		Prompt:      prompt,
		MaxTokens:   a.persona.MaxTokens,
		Temperature: a.persona.Temperature,
	})
	if err != nil {
		return "", err
	}
	text = truncate(text, a.persona.MaxReplyLength)

	if err := a.store.Add(ctx, key, memory.Turn{Role: memory.RoleAssistant, Content: text}); err != nil {
		return "", fmt.Errorf("record reply: %w", err)
	}
	if a.recall != nil {
		if err := a.recall.AddInteraction(ctx, key, msg.Text, text); err != nil {
			a.log.Warn("recall index failed", logx.String("conversation", key), logx.Err(err))
		}
	}
	return text, nil
}

func (a *Agent) learningContext(ctx context.Context, text string) string {
	if a.recall == nil {
		return ""
	}
	similar, err := a.recall.Similar(ctx, text, 0)
	if err != nil {
		a.log.Debug("recall query failed", logx.Err(err))
		return ""
	}
	if len(similar) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Here are some relevant past interactions you should remember:")
	for i, s := range similar {
		fmt.Fprintf(&b, "\n%d. User previously said: %q\n   You responded: %q\n   (similarity: %.2f)",
			i+1, s.UserMessage, s.AgentResponse, s.Similarity)
	}
	return b.String()
}

func toMessages(turns []memory.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content})
	}
	return out
}

// Post generates an autonomous post from a random post prompt.
func (a *Agent) Post(ctx context.Context) (string, error) {
	prompts := a.persona.PostPrompts
	prompt := prompts[a.pick(len(prompts))]
	text, err := a.gen.Generate(ctx, llm.Request{
		System:      a.persona.SystemPrompt,
		Prompt:      prompt,
		MaxTokens:   a.persona.MaxTokens,
		Temperature: a.persona.Temperature,
	})
	if err != nil {
		return "", err
	}
	return truncate(text, a.persona.MaxPostLength), nil
}

// PostTo generates a post, sends it and records it as an assistant turn.
func (a *Agent) PostTo(ctx context.Context, platform, conversationID string) (string, error) {
	text, err := a.Post(ctx)
	if err != nil {
		return "", err
	}
	if err := a.Send(ctx, platform, conversationID, text); err != nil {
		return "", err
	}
	key := ConversationKey(platform, conversationID)
	if err := a.store.Add(ctx, key, memory.Turn{
		Role:    memory.RoleAssistant,
		Content: text,
		Meta:    map[string]string{"kind": "post"},
	}); err != nil {
		a.log.Warn("record post failed", logx.String("conversation", key), logx.Err(err))
	}
	return text, nil
}

// Send delivers text under the outbound rate limit.
func (a *Agent) Send(ctx context.Context, platform, conversationID, text string) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	return a.sender.Send(ctx, platform, conversationID, text)
}
