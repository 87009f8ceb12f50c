package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	logx "pepe/pkg/logx"
)

const (
	recallCollection     = "interactions"
	DefaultRecallTopK    = 3
	DefaultMinSimilarity = 0.3
)

// RecallConfig configures semantic recall. An empty Path keeps vectors in memory.
type RecallConfig struct {
	Path          string
	Embedder      string // "ollama" or "openai"
	Model         string
	BaseURL       string
	APIKey        string
	TopK          int
	MinSimilarity float32
}

// Interaction is a user message and the agent's reply, as indexed for recall.
type Interaction struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserMessage    string    `json:"user_message"`
	AgentResponse  string    `json:"agent_response"`
	At             time.Time `json:"timestamp"`
	Similarity     float32   `json:"similarity_score"`
}

// Recall indexes past interactions in a chromem-go collection and finds the
// ones closest to a new message.
type Recall struct {
	log  logx.Logger
	cfg  RecallConfig
	db   *chromem.DB
	coll *chromem.Collection
}

type RecallOption func(*recallOptions)

type recallOptions struct {
	embed chromem.EmbeddingFunc
}

// WithEmbeddingFunc overrides the configured embedder.
func WithEmbeddingFunc(fn chromem.EmbeddingFunc) RecallOption {
	return func(o *recallOptions) { o.embed = fn }
}

func NewRecall(cfg RecallConfig, log logx.Logger, opts ...RecallOption) (*Recall, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRecallTopK
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	var o recallOptions
	for _, opt := range opts {
		opt(&o)
	}
	embed := o.embed
	if embed == nil {
		var err error
		if embed, err = embeddingFunc(cfg); err != nil {
			return nil, err
		}
	}

	var db *chromem.DB
	if p := strings.TrimSpace(cfg.Path); p != "" {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("recall dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(p, false)
		if err != nil {
			return nil, fmt.Errorf("recall db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	coll, err := db.GetOrCreateCollection(recallCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("recall collection: %w", err)
	}
	log.Info("recall ready", logx.String("path", cfg.Path), logx.String("embedder", cfg.Embedder), logx.Int("count", coll.Count()))
	return &Recall{log: log, cfg: cfg, db: db, coll: coll}, nil
}

func embeddingFunc(cfg RecallConfig) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Embedder)) {
	case "", "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return chromem.NewEmbeddingFuncOllama(model, cfg.BaseURL), nil
	case "openai":
		if cfg.BaseURL != "" {
			return chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, nil), nil
		}
		if cfg.APIKey == "" {
			return nil, errors.New("recall: openai embedder needs api_key")
		}
		model := chromem.EmbeddingModelOpenAI3Small
		if cfg.Model != "" {
			model = chromem.EmbeddingModelOpenAI(cfg.Model)
		}
		return chromem.NewEmbeddingFuncOpenAI(cfg.APIKey, model), nil
	default:
		return nil, fmt.Errorf("recall: unknown embedder %q", cfg.Embedder)
	}
}

// Count reports the number of indexed interactions.
func (r *Recall) Count() int { return r.coll.Count() }

// AddInteraction embeds and stores one exchange.
func (r *Recall) AddInteraction(ctx context.Context, conversationID, userMessage, reply string) error {
	now := time.Now().UTC()
	doc := chromem.Document{
		ID:      uuid.NewString(),
		Content: "User: " + userMessage + "\nAgent: " + reply,
		Metadata: map[string]string{
			"conversation_id": conversationID,
			"user_message":    userMessage,
			"agent_response":  reply,
			"timestamp":       now.Format(time.RFC3339Nano),
		},
	}
	if err := r.coll.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("recall add: %w", err)
	}
	r.log.Debug("recall indexed", logx.String("id", doc.ID), logx.String("conversation", conversationID))
	return nil
}

// Similar returns up to n past interactions at or above the similarity floor,
// best match first. n <= 0 uses the configured TopK.
func (r *Recall) Similar(ctx context.Context, text string, n int) ([]Interaction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if n <= 0 {
		n = r.cfg.TopK
	}
	// chromem rejects nResults above the collection size.
	count := r.coll.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	res, err := r.coll.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall query: %w", err)
	}
	out := make([]Interaction, 0, len(res))
	for _, d := range res {
		if d.Similarity < r.cfg.MinSimilarity {
			continue
		}
		at, _ := time.Parse(time.RFC3339Nano, d.Metadata["timestamp"])
		out = append(out, Interaction{
			ID:             d.ID,
			ConversationID: d.Metadata["conversation_id"],
			UserMessage:    d.Metadata["user_message"],
			AgentResponse:  d.Metadata["agent_response"],
			At:             at,
			Similarity:     d.Similarity,
		})
	}
	return out, nil
}
