package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pepe/internal/agent"
	"pepe/internal/config"
	"pepe/internal/llm"
	"pepe/internal/memory"
	"pepe/internal/observability/monitor"
	"pepe/internal/transport"
	"pepe/internal/transport/irc"
	"pepe/internal/transport/telegram"
	logx "pepe/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapMemoryConfig(cfg *config.Config) (memory.Config, error) {
	busy, err := config.ParseDurationOrDefault("memory.busy_timeout", cfg.Memory.BusyTimeout, time.Second)
	if err != nil {
		return memory.Config{}, err
	}
	return memory.Config{
		Driver:      strings.TrimSpace(cfg.Memory.Driver),
		Path:        strings.TrimSpace(cfg.Memory.Path),
		MaxHistory:  cfg.Memory.HistoryLimit(),
		BusyTimeout: busy,
	}, nil
}

// mapRecallConfig reports false when recall is off.
func mapRecallConfig(cfg *config.Config) (memory.RecallConfig, bool) {
	rc := cfg.Memory.Recall
	if rc == nil || !rc.Enabled {
		return memory.RecallConfig{}, false
	}
	return memory.RecallConfig{
		Path:     rc.Path,
		Embedder: rc.Embedder,
		Model:    rc.Model,
		BaseURL:  rc.BaseURL,
		APIKey:   rc.APIKey,
		TopK:     rc.TopK,
	}, true
}

func mapProviders(cfg *config.Config) []llm.Provider {
	out := make([]llm.Provider, 0, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		out = append(out, llm.Provider{Name: p.Name, BaseURL: p.BaseURL, Model: p.Model, APIKey: p.APIKey})
	}
	return out
}

func mapPersona(p config.PersonaConfig) agent.Persona {
	return agent.Persona{
		Name:           p.Name,
		SystemPrompt:   p.SystemPrompt,
		PostPrompts:    p.PostPrompts,
		MaxPostLength:  p.PostLimit(),
		MaxReplyLength: p.MaxReplyLength,
		MaxTokens:      p.MaxTokens,
		Temperature:    float32(p.Temperature),
	}
}

func mapMonitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		Enabled: cfg.Monitor.Enabled,
		Addr:    cfg.Monitor.Address(),
		Token:   cfg.Monitor.Token,
		Pprof:   cfg.Monitor.Pprof,
	}
}

func buildAdapters(cfg *config.Config, log logx.Logger) ([]transport.Adapter, error) {
	var out []transport.Adapter
	if tc := cfg.Telegram; tc != nil {
		poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{Token: tc.Token, PollTimeout: poll}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		out = append(out, ad)
	}
	if ic := cfg.IRC; ic != nil {
		ad, err := irc.New(irc.Config{
			Server:   ic.Server,
			Port:     ic.Port,
			TLS:      ic.TLS,
			Nick:     ic.Nick,
			User:     ic.User,
			Name:     ic.Name,
			Password: ic.Password,
			Channels: ic.Channels,
		}, log.With(logx.String("comp", "irc")))
		if err != nil {
			return nil, fmt.Errorf("irc: %w", err)
		}
		out = append(out, ad)
	}
	return out, nil
}

// ownerSet holds "platform:author_id" keys allowed to run operator commands.
type ownerSet map[string]struct{}

func mapOwners(cfg *config.Config) ownerSet {
	out := ownerSet{}
	if cfg.Telegram != nil {
		for _, id := range cfg.Telegram.OwnerUserIDs {
			out[telegram.Name+":"+strconv.FormatInt(id, 10)] = struct{}{}
		}
	}
	if cfg.IRC != nil {
		for _, nick := range cfg.IRC.Owners {
			out[irc.Name+":"+strings.TrimSpace(nick)] = struct{}{}
		}
	}
	return out
}

func (o ownerSet) has(platform, authorID string) bool {
	_, ok := o[platform+":"+authorID]
	return ok
}
