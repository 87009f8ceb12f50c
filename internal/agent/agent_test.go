package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"pepe/internal/llm"
	"pepe/internal/memory"
	"pepe/internal/transport"
	logx "pepe/pkg/logx"
)

type fakeGen struct {
	mu    sync.Mutex
	reqs  []llm.Request
	reply string
	err   error
}

func (f *fakeGen) Generate(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func (f *fakeGen) last() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(_ context.Context, platform, conv, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, platform+"/"+conv+": "+text)
	return nil
}

type fakeRecall struct {
	similar []memory.Interaction
	added   []string
}

func (f *fakeRecall) AddInteraction(_ context.Context, conv, user, reply string) error {
	f.added = append(f.added, conv+"|"+user+"|"+reply)
	return nil
}

func (f *fakeRecall) Similar(context.Context, string, int) ([]memory.Interaction, error) {
	return f.similar, nil
}

func newAgent(t *testing.T, gen *fakeGen, rec Recaller, p Persona, opts ...Option) (*Agent, memory.Store, *fakeSender) {
	t.Helper()
	st, err := memory.Open(memory.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("memory.Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	snd := &fakeSender{}
	a, err := New(p, Deps{Log: logx.Nop(), Generator: gen, Store: st, Recall: rec, Sender: snd}, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return a, st, snd
}

func inbound(text string) transport.Message {
	return transport.Message{
		Platform:       "telegram",
		ConversationID: "42",
		MessageID:      "7",
		AuthorID:       "1",
		AuthorName:     "frog",
		Text:           text,
		IsMention:      true,
		At:             time.Now(),
	}
}

func TestReplyRecordsTurnsAndUsesHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gen := &fakeGen{reply: "gm fren"}
	rec := &fakeRecall{similar: []memory.Interaction{{UserMessage: "wen moon", AgentResponse: "soon", Similarity: 0.8}}}
	a, st, _ := newAgent(t, gen, rec, Persona{})

	if _, err := a.Reply(ctx, inbound("gm")); err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	got, err := a.Reply(ctx, inbound("how are you"))
	if err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	if got != "gm fren" {
		t.Fatalf("Reply = %q", got)
	}

	req := gen.last()
	if req.Prompt != "how are you" {
		t.Fatalf("Prompt = %q", req.Prompt)
	}
	if len(req.History) != 2 || req.History[0].Content != "gm" || req.History[1].Role != llm.RoleAssistant {
		t.Fatalf("History = %+v, want previous exchange only", req.History)
	}
	if !strings.HasPrefix(req.System, DefaultSystemPrompt) || !strings.Contains(req.System, `User previously said: "wen moon"`) {
		t.Fatalf("System = %q", req.System)
	}

	h, _ := st.History(ctx, ConversationKey("telegram", "42"), 0)
	if len(h) != 4 || h[2].Role != memory.RoleUser || h[2].Meta["author"] != "frog" || h[3].Content != "gm fren" {
		t.Fatalf("stored = %+v", h)
	}
	if len(rec.added) != 2 || rec.added[1] != "telegram:42|how are you|gm fren" {
		t.Fatalf("recall added = %v", rec.added)
	}
}

func TestRespondWithInstruction(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{reply: "wagmi"}
	a, _, _ := newAgent(t, gen, nil, Persona{SystemPrompt: "be pepe"})
	if _, err := a.Respond(context.Background(), inbound("gm all"), "greet them back"); err != nil {
		t.Fatalf("Respond error: %v", err)
	}
	req := gen.last()
	if req.Prompt != "greet them back\n\nfrog: gm all" {
		t.Fatalf("Prompt = %q", req.Prompt)
	}
	if req.System != "be pepe" {
		t.Fatalf("System = %q, want no recall context", req.System)
	}
}

func TestReplyGenerationErrorKeepsUserTurn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gen := &fakeGen{err: llm.ErrEmptyCompletion}
	a, st, _ := newAgent(t, gen, nil, Persona{})
	if _, err := a.Reply(ctx, inbound("gm")); !errors.Is(err, llm.ErrEmptyCompletion) {
		t.Fatalf("Reply error = %v, want ErrEmptyCompletion", err)
	}
	h, _ := st.History(ctx, ConversationKey("telegram", "42"), 0)
	if len(h) != 1 || h[0].Role != memory.RoleUser {
		t.Fatalf("stored = %+v, want only the user turn", h)
	}
}

func TestReplyTruncates(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{reply: "feels good man"}
	a, _, _ := newAgent(t, gen, nil, Persona{MaxReplyLength: 5})
	got, _ := a.Reply(context.Background(), inbound("gm"))
	if got != "feels" {
		t.Fatalf("Reply = %q, want %q", got, "feels")
	}
}

func TestPostPicksPromptAndTrims(t *testing.T) {
	t.Parallel()
	gen := &fakeGen{reply: strings.Repeat("🐸", 300)}
	a, _, _ := newAgent(t, gen, nil, Persona{})
	a.pick = func(n int) int { return n - 1 }

	got, err := a.Post(context.Background())
	if err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if n := utf8.RuneCountInString(got); n != DefaultMaxPostLength {
		t.Fatalf("post length = %d runes, want %d", n, DefaultMaxPostLength)
	}
	if p := gen.last().Prompt; p != DefaultPostPrompts[len(DefaultPostPrompts)-1] {
		t.Fatalf("Prompt = %q", p)
	}
	if len(gen.last().History) != 0 {
		t.Fatal("posts should not carry history")
	}
}

func TestPostToSendsAndRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gen := &fakeGen{reply: "feels good man"}
	a, st, snd := newAgent(t, gen, nil, Persona{PostPrompts: []string{"vibe"}})

	if _, err := a.PostTo(ctx, "irc", "#pepe"); err != nil {
		t.Fatalf("PostTo error: %v", err)
	}
	if len(snd.sent) != 1 || snd.sent[0] != "irc/#pepe: feels good man" {
		t.Fatalf("sent = %v", snd.sent)
	}
	h, _ := st.History(ctx, "irc:#pepe", 0)
	if len(h) != 1 || h[0].Role != memory.RoleAssistant || h[0].Meta["kind"] != "post" {
		t.Fatalf("stored = %+v", h)
	}
}

func TestSendRateLimited(t *testing.T) {
	t.Parallel()
	a, _, snd := newAgent(t, &fakeGen{}, nil, Persona{}, WithRateLimit(1))
	if err := a.Send(context.Background(), "irc", "#pepe", "one"); err != nil {
		t.Fatalf("first Send error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := a.Send(ctx, "irc", "#pepe", "two"); err == nil {
		t.Fatal("second Send within the window: expected rate limit error")
	}
	if len(snd.sent) != 1 {
		t.Fatalf("sent = %v, want one message", snd.sent)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()
	if _, err := New(Persona{}, Deps{}); err == nil {
		t.Fatal("New without deps: expected error")
	}
}
