package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a text message to a conversation. Platform adapters implement it.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) error
}

const (
	chatQueueSize   = 256
	chatSendTimeout = 10 * time.Second
	chatTextLimit   = 3500
)

type chatMessage struct {
	sender Sender
	target string
	text   string
}

// chatSink is a zerolog.LevelWriter that forwards records at or above
// minLevel to one conversation. Delivery runs on its own goroutine; a full
// queue or an exhausted limiter drops the record instead of blocking logging.
type chatSink struct {
	mu       sync.Mutex
	sender   Sender
	target   string
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan chatMessage
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newChatSink() *chatSink {
	return &chatSink{
		queue:    make(chan chatMessage, chatQueueSize),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (c *chatSink) configure(cfg ChatConfig) {
	perSec := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	c.mu.Unlock()
}

func (c *chatSink) setTarget(sender Sender, conversationID string) {
	c.mu.Lock()
	c.sender = sender
	c.target = strings.TrimSpace(conversationID)
	c.mu.Unlock()
}

// start launches the delivery goroutine once.
func (c *chatSink) start() {
	c.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		c.mu.Lock()
		c.cancel, c.done = cancel, done
		c.mu.Unlock()
		go c.deliver(ctx, done)
	})
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *chatSink) deliver(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.queue:
			sendCtx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_ = m.sender.Send(sendCtx, m.target, m.text)
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	sender, target, minLevel, lim := c.sender, c.target, c.minLevel, c.limiter
	c.mu.Unlock()

	if sender == nil || target == "" || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatChatJSON(p); text != "" {
		select {
		case c.queue <- chatMessage{sender: sender, target: target, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatChatJSON renders one JSON record as "[LEVEL] message" followed by a
// "- key=value" line per remaining field, keys sorted. Non-JSON input is
// passed through trimmed.
func formatChatJSON(p []byte) string {
	raw := bytes.TrimSpace(p)
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return clip(string(raw), chatTextLimit)
	}

	var b strings.Builder
	if lvl, _ := rec[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)
	for _, k := range slices.Sorted(maps.Keys(rec)) {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), limit))
	}
	return clip(b.String(), chatTextLimit)
}

// clip cuts s to at most n bytes on a rune boundary, marking the cut with "...".
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := max(n-3, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
