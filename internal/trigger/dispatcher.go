// Package trigger matches inbound messages against keyword and mention rules
// and runs the handlers of every rule that matches.
package trigger

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"pepe/internal/eventbus"
	logx "pepe/pkg/logx"
)

type Dispatcher struct {
	log logx.Logger
	bus eventbus.Bus

	mu    sync.RWMutex
	rules []rule
	seq   int
}

func New(log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Dispatcher{log: log, bus: bus}
}

// Option tweaks a rule at registration.
type Option func(*rule)

// Named labels a rule in logs and status output.
func Named(name string) Option { return func(r *rule) { r.name = strings.TrimSpace(name) } }

// AddKeywordTrigger registers a rule that fires when any keyword occurs as a
// substring of the message. Case-insensitive rules store lowercased keywords.
func (d *Dispatcher) AddKeywordTrigger(keywords []string, h Handler, caseSensitive bool, opts ...Option) (int, error) {
	if h == nil {
		return 0, fmt.Errorf("keyword trigger: handler required")
	}
	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if !caseSensitive {
			k = strings.ToLower(k)
		}
		kws = append(kws, k)
	}
	if len(kws) == 0 {
		return 0, ErrNoKeywords
	}
	return d.add(rule{kind: KindKeyword, keywords: kws, caseSensitive: caseSensitive, handler: h}, opts), nil
}

// AddMentionTrigger registers a rule that fires when the context marks the
// message as a mention.
func (d *Dispatcher) AddMentionTrigger(h Handler, opts ...Option) (int, error) {
	if h == nil {
		return 0, fmt.Errorf("mention trigger: handler required")
	}
	return d.add(rule{kind: KindMention, handler: h}, opts), nil
}

func (d *Dispatcher) add(r rule, opts []Option) int {
	for _, o := range opts {
		o(&r)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	r.id = d.seq
	d.rules = append(d.rules, r)
	d.log.Debug("trigger registered", logx.Int("rule", r.id), logx.String("kind", r.kind.String()), logx.Strs("keywords", r.keywords))
	return r.id
}

// matches has no side effects.
func (r *rule) matches(message, lowered string, mctx Context) bool {
	switch r.kind {
	case KindMention:
		return mctx.IsMention()
	case KindKeyword:
		text := lowered
		if r.caseSensitive {
			text = message
		}
		for _, k := range r.keywords {
			if strings.Contains(text, k) {
				return true
			}
		}
	}
	return false
}

// Check evaluates every rule in registration order. Each matching rule's
// handler runs once, sequentially, before Check returns; a failing handler
// does not stop later rules. It reports whether any rule fired.
func (d *Dispatcher) Check(ctx context.Context, message string, mctx Context) bool {
	if mctx == nil {
		mctx = Context{}
	}
	d.mu.RLock()
	rules := d.rules
	d.mu.RUnlock()

	lowered := strings.ToLower(message)
	fired := false
	for i := range rules {
		r := &rules[i]
		if !r.matches(message, lowered, mctx) {
			continue
		}
		fired = true
		d.fire(ctx, r, message, mctx)
	}
	return fired
}

func (d *Dispatcher) fire(ctx context.Context, r *rule, message string, mctx Context) {
	start := time.Now()
	err := invoke(ctx, r.handler, message, mctx)
	ev := Event{Rule: r.id, Name: r.name, Kind: r.kind, Platform: mctx.String(KeyPlatform)}
	if err == nil {
		d.log.Debug("trigger fired", logx.Int("rule", r.id), logx.String("kind", r.kind.String()), logx.Duration("took", time.Since(start)))
		d.bus.Publish(eventbus.Event{Type: eventbus.TriggerFired, Data: ev})
		return
	}
	ev.Err = err.Error()
	fields := []logx.Field{
		logx.Int("rule", r.id),
		logx.String("kind", r.kind.String()),
		logx.String("platform", ev.Platform),
		logx.String("conversation", mctx.String(KeyConversationID)),
		logx.Err(err),
	}
	if r.name != "" {
		fields = append(fields, logx.String("name", r.name))
	}
	if pe, ok := err.(*panicError); ok {
		fields = append(fields, logx.Stack(pe.stack))
	}
	d.log.Error("trigger handler failed", fields...)
	d.bus.Publish(eventbus.Event{Type: eventbus.TriggerFailed, Data: ev})
}

// Rules lists registered rules in evaluation order.
func (d *Dispatcher) Rules() []RuleInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RuleInfo, 0, len(d.rules))
	for _, r := range d.rules {
		out = append(out, RuleInfo{
			ID:            r.id,
			Name:          r.name,
			Kind:          r.kind,
			Keywords:      append([]string(nil), r.keywords...),
			CaseSensitive: r.caseSensitive,
		})
	}
	return out
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func invoke(ctx context.Context, h Handler, message string, mctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return h(ctx, message, mctx)
}
