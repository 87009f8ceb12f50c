package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"pepe/internal/config"
	"pepe/internal/eventbus"
	"pepe/internal/transport"
	"pepe/internal/trigger"
	logx "pepe/pkg/logx"
)

const (
	statusCommand = "/status"
	// keyReplied marks a message already answered by an earlier rule.
	keyReplied = "replied"
)

// registerTriggers installs rules in evaluation order: the owner status
// command, config keyword rules, then the catch-all mention reply.
func (a *App) registerTriggers(cfg *config.Config) error {
	if _, err := a.disp.AddKeywordTrigger([]string{statusCommand}, a.handleStatus, false, trigger.Named("status")); err != nil {
		return err
	}
	for _, kt := range cfg.Triggers {
		prompt := kt.Prompt
		if _, err := a.disp.AddKeywordTrigger(kt.Keywords, func(ctx context.Context, message string, mctx trigger.Context) error {
			return a.respond(ctx, message, mctx, prompt)
		}, kt.CaseSensitive, trigger.Named(kt.Name)); err != nil {
			return err
		}
	}
	_, err := a.disp.AddMentionTrigger(func(ctx context.Context, message string, mctx trigger.Context) error {
		if replied, _ := mctx[keyReplied].(bool); replied {
			return nil
		}
		if strings.HasPrefix(strings.TrimSpace(message), "/") {
			return nil
		}
		return a.respond(ctx, message, mctx, "")
	}, trigger.Named("mention"))
	return err
}

func (a *App) respond(ctx context.Context, message string, mctx trigger.Context, instruction string) error {
	msg := transport.FromContext(message, mctx)
	reply, err := a.agent.Respond(ctx, msg, instruction)
	if err != nil {
		return err
	}
	if err := a.agent.Send(ctx, msg.Platform, msg.ConversationID, reply); err != nil {
		return err
	}
	mctx[keyReplied] = true
	a.bus.Publish(eventbus.Event{Type: eventbus.MessageOut, Time: time.Now(), Data: transport.Message{
		Platform:       msg.Platform,
		ConversationID: msg.ConversationID,
		Text:           reply,
		At:             time.Now(),
	}})
	a.log.Info("replied",
		logx.String("platform", msg.Platform),
		logx.String("conversation", msg.ConversationID),
		logx.String("author", msg.AuthorName),
	)
	return nil
}

// handleStatus answers owners with the scheduler snapshot; others are ignored.
func (a *App) handleStatus(ctx context.Context, message string, mctx trigger.Context) error {
	platform := mctx.String(trigger.KeyPlatform)
	if !a.owners.has(platform, mctx.String(trigger.KeyAuthorID)) {
		return nil
	}
	b, err := json.MarshalIndent(a.sched.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	mctx[keyReplied] = true
	return a.agent.Send(ctx, platform, mctx.String(trigger.KeyConversationID), string(b))
}
