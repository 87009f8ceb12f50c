package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pepe/pkg/logx"
)

// HotSections are applied without a restart.
var HotSections = map[string]bool{"logging": true, "scheduler": true, "tasks": true}

// SummarizeConfigChange lists changed top-level sections and returns log
// fields describing them. Secrets (tokens, API keys, passwords) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)
	mark := func(section string, differ bool, fs ...logx.Field) {
		if !differ {
			return
		}
		changed = append(changed, section)
		fields = append(fields, fs...)
	}

	mark("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
	)
	mark("scheduler", !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler),
		logx.String("scheduler.min_interval", newCfg.Scheduler.MinInterval),
	)
	mark("tasks", !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks),
		logx.Bool("tasks.auto_post", newCfg.Tasks.AutoPost.IsEnabled()),
		logx.Bool("tasks.check_mentions", newCfg.Tasks.CheckMentions.IsEnabled()),
		logx.Bool("tasks.save_memory", newCfg.Tasks.SaveMemory.IsEnabled()),
	)
	mark("persona", !reflect.DeepEqual(oldCfg.Persona, newCfg.Persona),
		logx.String("persona.name", newCfg.Persona.Name),
	)
	mark("llm", !reflect.DeepEqual(oldCfg.LLM, newCfg.LLM),
		logx.Strs("llm.providers", providerNames(newCfg.LLM.Providers)),
	)
	mark("memory", !reflect.DeepEqual(oldCfg.Memory, newCfg.Memory),
		logx.String("memory.driver", newCfg.Memory.Driver),
	)
	mark("posting", oldCfg.Posting != newCfg.Posting,
		logx.String("posting.platform", newCfg.Posting.Platform),
	)
	mark("telegram", !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram),
		logx.Bool("telegram.enabled", newCfg.Telegram != nil),
	)
	mark("irc", !reflect.DeepEqual(oldCfg.IRC, newCfg.IRC),
		logx.Bool("irc.enabled", newCfg.IRC != nil),
	)
	mark("triggers", !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers),
		logx.Int("triggers.count", len(newCfg.Triggers)),
	)
	mark("monitor", oldCfg.Monitor != newCfg.Monitor,
		logx.Bool("monitor.enabled", newCfg.Monitor.Enabled),
		logx.String("monitor.addr", strings.TrimSpace(newCfg.Monitor.Addr)),
		logx.Bool("monitor.token_set", newCfg.Monitor.Token != ""),
	)

	sort.Strings(changed)
	return changed, fields
}

// RestartRequired returns the changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func providerNames(ps []ProviderConfig) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}
