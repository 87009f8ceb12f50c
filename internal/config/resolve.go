package config

import (
	"fmt"
	"strings"
	"time"

	"pepe/internal/task/scheduler"
)

const (
	DefaultAutoPostEvery      = "1h"
	DefaultCheckMentionsEvery = "5m"
	DefaultSaveMemoryEvery    = "10m"

	DefaultMaxHistory    = 20
	DefaultMaxPostLength = 280
	DefaultInboxSize     = 256
	DefaultLLMTimeout    = 60 * time.Second
	DefaultMonitorAddr   = "127.0.0.1:6061"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// Resolve converts the section to scheduler settings with defaults applied.
func (c SchedulerConfig) Resolve() (scheduler.Config, error) {
	out := scheduler.Config{VarianceFactor: scheduler.DefaultVarianceFactor}
	if c.VarianceFactor != nil {
		v := *c.VarianceFactor
		if v < 0 || v >= 1 {
			return out, fmt.Errorf("scheduler.variance_factor: must be in [0, 1), got %v", v)
		}
		out.VarianceFactor = v
	}
	var err error
	if out.MinInterval, err = ParseDurationOrDefault("scheduler.min_interval", c.MinInterval, scheduler.DefaultMinInterval); err != nil {
		return out, err
	}
	if out.StartupSpread, err = ParseDurationField("scheduler.startup_spread", c.StartupSpread); err != nil {
		return out, err
	}
	return out, nil
}

// Interval parses Every, falling back to def when empty.
func (t TaskConfig) Interval(path, def string) (time.Duration, error) {
	raw := strings.TrimSpace(t.Every)
	if raw == "" {
		raw = def
	}
	d, err := scheduler.ParseInterval(raw)
	if err != nil {
		return 0, fmt.Errorf("%s.every: %w", path, err)
	}
	return d, nil
}

func (c MemoryConfig) HistoryLimit() int {
	if c.MaxHistory <= 0 {
		return DefaultMaxHistory
	}
	return c.MaxHistory
}

func (c PersonaConfig) PostLimit() int {
	if c.MaxPostLength <= 0 {
		return DefaultMaxPostLength
	}
	return c.MaxPostLength
}

func (c MonitorConfig) Address() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultMonitorAddr
}
