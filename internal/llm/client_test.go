package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logx "pepe/pkg/logx"
)

type chatBody struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "pepe",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func newServer(t *testing.T, status int, content string, seen *atomic.Pointer[chatBody]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body chatBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			seen.Store(&body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_, _ = w.Write([]byte(completion(content)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerateFallsBack(t *testing.T) {
	t.Parallel()
	var seen atomic.Pointer[chatBody]
	bad := newServer(t, http.StatusInternalServerError, "", nil)
	good := newServer(t, http.StatusOK, "  feels good man  ", &seen)

	c, err := New([]Provider{
		{Name: "together", BaseURL: bad.URL + "/v1", Model: "degen", APIKey: "k"},
		{Name: "ollama", BaseURL: good.URL + "/v1/", Model: "llama3"},
	}, time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	got, err := c.Generate(context.Background(), Request{
		System:    "you are pepe",
		History:   []Message{{Role: RoleUser, Content: "gm"}, {Role: RoleAssistant, Content: "gm fren"}},
		Prompt:    "wen moon",
		MaxTokens: 64,
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if got != "feels good man" {
		t.Fatalf("Generate = %q, want trimmed completion", got)
	}

	body := seen.Load()
	if body == nil {
		t.Fatal("second provider never called")
	}
	if body.Model != "llama3" || body.MaxTokens != 64 {
		t.Fatalf("request model=%q max_tokens=%d", body.Model, body.MaxTokens)
	}
	if len(body.Messages) != 4 || body.Messages[0].Role != RoleSystem || body.Messages[3].Content != "wen moon" {
		t.Fatalf("messages = %+v", body.Messages)
	}
}

func TestGenerateEmptyCompletion(t *testing.T) {
	t.Parallel()
	srv := newServer(t, http.StatusOK, "   ", nil)
	c, err := New([]Provider{{BaseURL: srv.URL + "/v1", Model: "m"}}, time.Second, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	_, err = c.Generate(context.Background(), Request{Prompt: "gm"})
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("Generate error = %v, want ErrEmptyCompletion", err)
	}
}

func TestGenerateStopsOnCanceledContext(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, _ := New([]Provider{
		{BaseURL: srv.URL + "/v1", Model: "a"},
		{BaseURL: srv.URL + "/v1", Model: "b"},
	}, time.Second, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Generate(ctx, Request{Prompt: "gm"}); err == nil {
		t.Fatal("Generate: expected error on canceled context")
	}
	if n := calls.Load(); n != 0 {
		t.Fatalf("server calls = %d, want 0", n)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, 0, logx.Nop()); !errors.Is(err, ErrNoProviders) {
		t.Fatalf("New(nil) = %v, want ErrNoProviders", err)
	}
	if _, err := New([]Provider{{Name: "x"}}, 0, logx.Nop()); err == nil {
		t.Fatal("New without model: expected error")
	}
	c, err := New([]Provider{{Model: "m"}, {Name: "b", Model: "m"}}, 0, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := c.Providers(); got[0] != "provider-0" || got[1] != "b" {
		t.Fatalf("Providers() = %v", got)
	}
	if c.timeout != DefaultTimeout {
		t.Fatalf("timeout = %v, want %v", c.timeout, DefaultTimeout)
	}
}
