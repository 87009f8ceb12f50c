// Package agent turns model completions into the Pepe persona's posts and replies.
package agent

import (
	"strings"
	"unicode/utf8"
)

const DefaultMaxPostLength = 280

const DefaultSystemPrompt = "You are Pepe the frog. You're laid back and chill. You ended up in crypto, now you're on Solana. " +
	"You talk casual and lowercase, keep it simple. 'feels good man' when things go well, 'feels bad man' when they don't. " +
	"You're not trying to prove anything or be a try-hard. You just observe and vibe. " +
	"You're genuine, no fake hype. You'll help if asked but not pushy. " +
	"No corporate speak, no 'as an AI' stuff."

var DefaultPostPrompts = []string{
	"generate a degen crypto tweet",
	"say something about memecoins",
	"share your thoughts on solana",
	"make a joke about defi",
	"post about pump.fun",
	"comment on the current market",
}

// Persona is the character the agent speaks as.
type Persona struct {
	Name           string
	SystemPrompt   string
	PostPrompts    []string
	MaxPostLength  int
	MaxReplyLength int // 0 = unlimited
	MaxTokens      int
	Temperature    float32
}

func (p Persona) normalized() Persona {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = "pepe"
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		p.SystemPrompt = DefaultSystemPrompt
	}
	if len(p.PostPrompts) == 0 {
		p.PostPrompts = DefaultPostPrompts
	}
	if p.MaxPostLength <= 0 {
		p.MaxPostLength = DefaultMaxPostLength
	}
	return p
}

// truncate cuts s to at most limit runes; limit <= 0 keeps s.
func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}
