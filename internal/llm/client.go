package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	logx "pepe/pkg/logx"
)

const DefaultTimeout = 60 * time.Second

// Provider is one OpenAI-compatible endpoint (OpenAI, Together, Ollama /v1).
type Provider struct {
	Name    string
	BaseURL string
	Model   string
	APIKey  string
}

type backend struct {
	Provider
	api *openai.Client
}

// Client tries providers in order until one returns a non-empty completion.
type Client struct {
	log      logx.Logger
	timeout  time.Duration
	backends []backend
}

func New(providers []Provider, timeout time.Duration, log logx.Logger) (*Client, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log, timeout: timeout}
	for i, p := range providers {
		if strings.TrimSpace(p.Model) == "" {
			return nil, fmt.Errorf("llm: provider %d has no model", i)
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("provider-%d", i)
		}
		cfg := openai.DefaultConfig(p.APIKey)
		if p.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(p.BaseURL, "/")
		}
		c.backends = append(c.backends, backend{Provider: p, api: openai.NewClientWithConfig(cfg)})
	}
	return c, nil
}

// Providers lists provider names in fallback order.
func (c *Client) Providers() []string {
	out := make([]string, len(c.backends))
	for i, b := range c.backends {
		out[i] = b.Name
	}
	return out
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	msgs := req.Messages()
	wire := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		wire[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	var errs []error
	for _, b := range c.backends {
		start := time.Now()
		text, err := c.generateOne(ctx, b, req, wire)
		if err == nil {
			c.log.Debug("completion ok",
				logx.String("provider", b.Name),
				logx.String("model", b.Model),
				logx.Int("chars", len(text)),
				logx.Duration("took", time.Since(start)),
			)
			return text, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
		if ctx.Err() != nil {
			break
		}
		c.log.Warn("completion failed; trying next provider", logx.String("provider", b.Name), logx.Err(err))
	}
	return "", errors.Join(errs...)
}

func (c *Client) generateOne(ctx context.Context, b backend, req Request, msgs []openai.ChatCompletionMessage) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := b.api.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model:       b.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
