package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pepe/internal/task/scheduler"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  variance_factor: 0.1
  min_interval: 2s
tasks:
  auto_post:
    every: "@every 2h"
  check_mentions:
    enabled: false
persona:
  name: Pepe
  system_prompt: "You are Pepe."
llm:
  providers:
    - name: ollama
      base_url: http://localhost:11434/v1
      model: llama3
      api_key: ${PEPE_TEST_KEY}
memory:
  driver: sqlite
  path: ./pepe.db
irc:
  server: irc.libera.chat
  nick: pepe
posting:
  platform: irc
  conversation: "#pepe"
triggers:
  - name: greeting
    keywords: [gm, wagmi]
    prompt: "Say gm back."
`

func TestDecodeYAML(t *testing.T) {
	t.Setenv("PEPE_TEST_KEY", "sk-test")
	cfg, err := Decode("pepe.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("Logging = %+v", cfg.Logging)
	}
	if got := cfg.LLM.Providers[0].APIKey; got != "sk-test" {
		t.Fatalf("APIKey = %q, want env expansion", got)
	}
	if cfg.Tasks.CheckMentions.IsEnabled() {
		t.Fatal("check_mentions enabled, want disabled")
	}
	if !cfg.Tasks.SaveMemory.IsEnabled() {
		t.Fatal("save_memory disabled, want default enabled")
	}
	if cfg.IRC == nil || cfg.Telegram != nil {
		t.Fatalf("platforms: irc=%v telegram=%v", cfg.IRC, cfg.Telegram)
	}
	if err := Validate(context.Background(), cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "unknown json field", file: "c.json", data: `{"logging":{"level":"info"},"bogus":1}`},
		{name: "unknown yaml field", file: "c.yml", data: "persona:\n  nick: pepe\n"},
		{name: "trailing data", file: "c.json", data: `{} {}`},
		{name: "bad yaml", file: "c.yaml", data: "logging: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Fatalf("Decode(%s): expected error", tt.data)
			}
		})
	}
}

func TestSchedulerResolve(t *testing.T) {
	t.Parallel()
	got, err := SchedulerConfig{}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	want := scheduler.Config{VarianceFactor: 0.2, MinInterval: time.Second}
	if got != want {
		t.Fatalf("Resolve() = %+v, want %+v", got, want)
	}

	zero := 0.0
	got, err = SchedulerConfig{VarianceFactor: &zero, StartupSpread: "30s"}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if got.VarianceFactor != 0 || got.StartupSpread != 30*time.Second {
		t.Fatalf("Resolve() = %+v, want explicit zero variance and 30s spread", got)
	}

	bad := 1.5
	if _, err := (SchedulerConfig{VarianceFactor: &bad}).Resolve(); err == nil {
		t.Fatal("variance_factor 1.5: expected error")
	}
}

func TestTaskInterval(t *testing.T) {
	t.Parallel()
	d, err := TaskConfig{}.Interval("tasks.auto_post", DefaultAutoPostEvery)
	if err != nil || d != time.Hour {
		t.Fatalf("Interval default = %v, %v; want 1h", d, err)
	}
	d, err = TaskConfig{Every: "00:05"}.Interval("tasks.check_mentions", DefaultCheckMentionsEvery)
	if err != nil || d != 5*time.Minute {
		t.Fatalf("Interval = %v, %v; want 5m", d, err)
	}
	if _, err := (TaskConfig{Every: "*/7 * * * *"}).Interval("tasks.x", "1h"); err == nil || !strings.Contains(err.Error(), "tasks.x.every") {
		t.Fatalf("irregular cron error = %v, want path-prefixed error", err)
	}
}

func TestValidateReportsProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Memory:   MemoryConfig{Driver: "redis"},
		Posting:  PostingConfig{Platform: "telegram"},
		Triggers: []KeywordTriggerConfig{{Name: "empty"}},
		Monitor:  MonitorConfig{Enabled: true, Addr: "0.0.0.0:6061"},
		Tasks:    TasksConfig{SaveMemory: TaskConfig{Every: "never"}},
	}
	err := Validate(context.Background(), cfg)
	if err == nil {
		t.Fatal("Validate: expected error")
	}
	for _, want := range []string{
		"llm.providers",
		"memory.driver",
		"posting.platform",
		"triggers[0]: keywords",
		"triggers[0]: prompt",
		"monitor.addr",
		"tasks.save_memory.every",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate error missing %q:\n%v", want, err)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Logging: LoggingConfig{Level: "info"}, Telegram: &TelegramConfig{Token: "a"}}
	cur := &Config{Logging: LoggingConfig{Level: "debug"}, Telegram: &TelegramConfig{Token: "b"}}
	changed, _ := SummarizeConfigChange(old, cur)
	if strings.Join(changed, ",") != "logging,telegram" {
		t.Fatalf("changed = %v, want [logging telegram]", changed)
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RestartRequired = %v, want [telegram]", got)
	}
}

func TestManagerLoadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pepe.json")
	write := func(level string) {
		t.Helper()
		body := `{"logging":{"level":"` + level + `"},"llm":{"providers":[{"name":"x","base_url":"http://x","model":"m"}]}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("info")

	m := NewConfigManager(path)
	m.SetValidator(Validate)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get() did not return the loaded config")
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	write("debug")

	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("reloaded level = %q, want debug", got.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}
