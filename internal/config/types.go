package config

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Tasks     TasksConfig     `json:"tasks"`
	Persona   PersonaConfig   `json:"persona"`
	LLM       LLMConfig       `json:"llm"`
	Memory    MemoryConfig    `json:"memory"`
	Posting   PostingConfig   `json:"posting"`

	// Platforms. A nil section means the adapter is not started.
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	IRC      *IRCConfig      `json:"irc,omitempty"`

	// Triggers are keyword rules answered with a rule-specific prompt.
	Triggers []KeywordTriggerConfig `json:"triggers,omitempty"`

	Monitor MonitorConfig `json:"monitor,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat forwards WARN+ lines to an operator conversation.
type LoggingChat struct {
	Enabled      bool   `json:"enabled"`
	Platform     string `json:"platform"`
	Conversation string `json:"conversation"`
	MinLevel     string `json:"min_level"`
	RatePerSec   int    `json:"rate_per_sec"`
}

// SchedulerConfig tunes task jitter.
//
// Durations are Go duration strings (e.g. "1s", "30s").
//
// Defaults:
//   - variance_factor: 0.2 (pointer so an explicit 0 disables jitter)
//   - min_interval: "1s"
//   - startup_spread: "0s" (all tasks run once right after start)
type SchedulerConfig struct {
	VarianceFactor *float64 `json:"variance_factor,omitempty"`
	MinInterval    string   `json:"min_interval,omitempty"`
	StartupSpread  string   `json:"startup_spread,omitempty"`
}

type TasksConfig struct {
	AutoPost      TaskConfig `json:"auto_post"`
	CheckMentions TaskConfig `json:"check_mentions"`
	SaveMemory    TaskConfig `json:"save_memory"`

	// InboxSize bounds inbound messages buffered between check_mentions runs.
	InboxSize int `json:"inbox_size,omitempty"`
}

// TaskConfig describes one built-in task.
//
// Every accepts "55m", "01:30", "@hourly", "@every 2h" or an evenly spaced
// cron expression. Enabled defaults to true when omitted.
type TaskConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Every   string `json:"every,omitempty"`
}

func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

type PersonaConfig struct {
	Name         string   `json:"name"`
	SystemPrompt string   `json:"system_prompt"`
	PostPrompts  []string `json:"post_prompts,omitempty"`

	// MaxPostLength caps autonomous posts in characters (default 280).
	MaxPostLength int `json:"max_post_length,omitempty"`

	// MaxReplyLength caps replies; 0 leaves them to the platform's own split.
	MaxReplyLength int `json:"max_reply_length,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// LLMConfig lists OpenAI-compatible providers tried in order.
type LLMConfig struct {
	Timeout   string           `json:"timeout,omitempty"`
	Providers []ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	// APIKey may reference the environment as ${VAR}. Never logged.
	APIKey string `json:"api_key,omitempty"`
}

// MemoryConfig controls the conversation store.
//
// Example:
//
//	"memory": { "driver": "sqlite", "path": "./pepe.db", "max_history": 20 }
type MemoryConfig struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	MaxHistory  int           `json:"max_history,omitempty"`
	BusyTimeout string        `json:"busy_timeout,omitempty"` // sqlite
	Recall      *RecallConfig `json:"recall,omitempty"`
}

// RecallConfig enables semantic recall of past turns.
type RecallConfig struct {
	Enabled  bool   `json:"enabled"`
	Path     string `json:"path,omitempty"` // empty keeps the index in memory
	Embedder string `json:"embedder"`       // "ollama" | "openai"
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// PostingConfig says where auto_post publishes.
type PostingConfig struct {
	Platform      string `json:"platform"`
	Conversation  string `json:"conversation"`
	RatePerMinute int    `json:"rate_per_minute,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type IRCConfig struct {
	Server   string   `json:"server"`
	Port     int      `json:"port,omitempty"`
	TLS      bool     `json:"tls,omitempty"`
	Nick     string   `json:"nick"`
	User     string   `json:"user,omitempty"`
	Name     string   `json:"name,omitempty"`
	Password string   `json:"password,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Owners   []string `json:"owners,omitempty"`
}

type KeywordTriggerConfig struct {
	Name          string   `json:"name"`
	Keywords      []string `json:"keywords"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	Prompt        string   `json:"prompt"`
}

// MonitorConfig controls the optional HTTP status endpoint.
//
// Prefer binding to localhost. A non-loopback addr requires a token.
type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
	Pprof   bool   `json:"pprof,omitempty"`
}
