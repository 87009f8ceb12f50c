package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate checks a config before it is committed. Every problem is reported.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := cfg.Scheduler.Resolve()
	add(err)
	for _, t := range []struct {
		path string
		tc   TaskConfig
		def  string
	}{
		{"tasks.auto_post", cfg.Tasks.AutoPost, DefaultAutoPostEvery},
		{"tasks.check_mentions", cfg.Tasks.CheckMentions, DefaultCheckMentionsEvery},
		{"tasks.save_memory", cfg.Tasks.SaveMemory, DefaultSaveMemoryEvery},
	} {
		_, err := t.tc.Interval(t.path, t.def)
		add(err)
	}

	if len(cfg.LLM.Providers) == 0 {
		add(errors.New("llm.providers: at least one provider required"))
	}
	for i, p := range cfg.LLM.Providers {
		if strings.TrimSpace(p.BaseURL) == "" || strings.TrimSpace(p.Model) == "" {
			add(fmt.Errorf("llm.providers[%d]: base_url and model required", i))
		}
	}
	_, err = ParseDurationField("llm.timeout", cfg.LLM.Timeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Memory.Driver)) {
	case "", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Memory.Path) == "" {
			add(fmt.Errorf("memory.path: required for driver %q", cfg.Memory.Driver))
		}
	default:
		add(fmt.Errorf("memory.driver: unknown driver %q (use file, sqlite or memory)", cfg.Memory.Driver))
	}
	_, err = ParseDurationField("memory.busy_timeout", cfg.Memory.BusyTimeout)
	add(err)
	if r := cfg.Memory.Recall; r != nil && r.Enabled {
		switch r.Embedder {
		case "ollama", "openai":
		default:
			add(fmt.Errorf("memory.recall.embedder: unknown embedder %q (use ollama or openai)", r.Embedder))
		}
	}

	platforms := map[string]bool{}
	if tg := cfg.Telegram; tg != nil {
		platforms["telegram"] = true
		if strings.TrimSpace(tg.Token) == "" {
			add(errors.New("telegram.token: required"))
		}
		_, err = ParseDurationField("telegram.poll_timeout", tg.PollTimeout)
		add(err)
	}
	if irc := cfg.IRC; irc != nil {
		platforms["irc"] = true
		if strings.TrimSpace(irc.Server) == "" || strings.TrimSpace(irc.Nick) == "" {
			add(errors.New("irc: server and nick required"))
		}
	}
	if p := cfg.Posting.Platform; p != "" && !platforms[p] {
		add(fmt.Errorf("posting.platform: %q is not configured", p))
	}
	if c := cfg.Logging.Chat; c.Enabled && !platforms[c.Platform] {
		add(fmt.Errorf("logging.chat.platform: %q is not configured", c.Platform))
	}

	for i, tr := range cfg.Triggers {
		if len(tr.Keywords) == 0 {
			add(fmt.Errorf("triggers[%d]: keywords required", i))
		}
		if strings.TrimSpace(tr.Prompt) == "" {
			add(fmt.Errorf("triggers[%d]: prompt required", i))
		}
	}

	if cfg.Monitor.Enabled && cfg.Monitor.Token == "" && !isLoopback(cfg.Monitor.Address()) {
		add(fmt.Errorf("monitor.addr: %q is not loopback; set monitor.token", cfg.Monitor.Address()))
	}
	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
