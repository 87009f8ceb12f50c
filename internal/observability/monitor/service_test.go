package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "pepe/pkg/logx"
)

func get(t *testing.T, h http.Handler, target, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	status := func() any { return map[string]any{"running": true, "tasks": 3} }
	h := New(Config{Pprof: true}, status, logx.Nop()).Handler()

	if w := get(t, h, "/healthz", ""); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("/healthz = %d %q", w.Code, w.Body.String())
	}

	w := get(t, h, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/status code = %d", w.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("/status body: %v", err)
	}
	if doc["running"] != true || doc["tasks"] != float64(3) {
		t.Fatalf("/status = %v", doc)
	}

	if w := get(t, h, "/debug/pprof/", ""); w.Code != http.StatusOK {
		t.Fatalf("/debug/pprof/ code = %d", w.Code)
	}
	if w := get(t, h, "/debug/pprof/cmdline", ""); w.Code != http.StatusOK {
		t.Fatalf("/debug/pprof/cmdline code = %d", w.Code)
	}
}

func TestPprofDisabled(t *testing.T) {
	t.Parallel()
	h := New(Config{}, nil, logx.Nop()).Handler()
	if w := get(t, h, "/debug/pprof/", ""); w.Code != http.StatusNotFound {
		t.Fatalf("/debug/pprof/ code = %d, want 404", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, nil, logx.Nop()).Handler()
	tests := []struct {
		name   string
		target string
		auth   string
		want   int
	}{
		{name: "missing", target: "/healthz", want: http.StatusUnauthorized},
		{name: "wrong", target: "/healthz", auth: "Bearer nope", want: http.StatusUnauthorized},
		{name: "header", target: "/healthz", auth: "Bearer s3cret", want: http.StatusOK},
		{name: "query", target: "/healthz?token=s3cret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if w := get(t, h, tt.target, tt.auth); w.Code != tt.want {
				t.Fatalf("code = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("Addr() empty after Start")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("Addr() should be empty after Stop")
	}
}

func TestStartRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start: expected refusal for public bind without token")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop())
	if err := s.Start(context.Background()); err != nil || s.Addr() != "" {
		t.Fatalf("Start disabled = %v, addr %q", err, s.Addr())
	}
}
