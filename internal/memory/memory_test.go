package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "pepe/pkg/logx"
)

func openDriver(t *testing.T, driver, path string, max int) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: path, MaxHistory: max}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	return st
}

func contents(turns []Turn) string {
	parts := make([]string, len(turns))
	for i, tr := range turns {
		parts[i] = tr.Content
	}
	return strings.Join(parts, ",")
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "memory.db")
			st := openDriver(t, driver, path, 3)
			defer st.Close()

			for i := 1; i <= 5; i++ {
				role := RoleUser
				if i%2 == 0 {
					role = RoleAssistant
				}
				if err := st.Add(ctx, "tg:1", Turn{Role: role, Content: fmt.Sprint(i), Meta: map[string]string{"n": fmt.Sprint(i)}}); err != nil {
					t.Fatalf("Add error: %v", err)
				}
			}
			if err := st.Add(ctx, "irc:#pepe", Turn{Role: RoleUser, Content: "gm"}); err != nil {
				t.Fatalf("Add error: %v", err)
			}

			h, err := st.History(ctx, "tg:1", 0)
			if err != nil {
				t.Fatalf("History error: %v", err)
			}
			if got := contents(h); got != "3,4,5" {
				t.Fatalf("History = %s, want 3,4,5", got)
			}
			if h[1].Role != RoleAssistant || h[1].Meta["n"] != "4" || h[1].At.IsZero() {
				t.Fatalf("turn = %+v", h[1])
			}

			h, _ = st.History(ctx, "tg:1", 2)
			if got := contents(h); got != "4,5" {
				t.Fatalf("History(last 2) = %s, want 4,5", got)
			}

			convs, err := st.Conversations(ctx)
			if err != nil {
				t.Fatalf("Conversations error: %v", err)
			}
			if got := strings.Join(convs, ","); got != "irc:#pepe,tg:1" {
				t.Fatalf("Conversations = %s", got)
			}

			if err := st.Clear(ctx, "tg:1"); err != nil {
				t.Fatalf("Clear error: %v", err)
			}
			if h, _ := st.History(ctx, "tg:1", 0); len(h) != 0 {
				t.Fatalf("History after Clear = %v, want empty", h)
			}
			if err := st.Save(ctx); err != nil {
				t.Fatalf("Save error: %v", err)
			}
		})
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openDriver(t, "memory", "", 0)
	_ = st.Add(ctx, "c", Turn{Role: RoleUser, Content: "a"})
	h, _ := st.History(ctx, "c", 0)
	h[0].Content = "mutated"
	h2, _ := st.History(ctx, "c", 0)
	if h2[0].Content != "a" {
		t.Fatalf("History leaked internal slice: %q", h2[0].Content)
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	st := openDriver(t, "memory", "", 0)
	_ = st.Close()
	if err := st.Add(context.Background(), "c", Turn{Content: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after Close = %v, want ErrClosed", err)
	}
}

func TestPersistentDriversReopen(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		driver string
		save   bool
	}{
		{driver: "file", save: false},
		{driver: "file", save: true},
		{driver: "sqlite", save: false},
	} {
		t.Run(fmt.Sprintf("%s/save=%v", tc.driver, tc.save), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "memory.json")
			at := time.Date(2024, 4, 20, 4, 20, 0, 0, time.UTC)

			st := openDriver(t, tc.driver, path, 20)
			_ = st.Add(ctx, "c", Turn{Role: RoleUser, Content: "wen moon", At: at})
			_ = st.Add(ctx, "c", Turn{Role: RoleAssistant, Content: "soon fren"})
			_ = st.Add(ctx, "gone", Turn{Role: RoleUser, Content: "x"})
			_ = st.Clear(ctx, "gone")
			if tc.save {
				if err := st.Save(ctx); err != nil {
					t.Fatalf("Save error: %v", err)
				}
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close error: %v", err)
			}

			st = openDriver(t, tc.driver, path, 20)
			defer st.Close()
			h, err := st.History(ctx, "c", 0)
			if err != nil {
				t.Fatalf("History error: %v", err)
			}
			if got := contents(h); got != "wen moon,soon fren" {
				t.Fatalf("History after reopen = %s", got)
			}
			if !h[0].At.Equal(at) {
				t.Fatalf("At = %v, want %v", h[0].At, at)
			}
			convs, _ := st.Conversations(ctx)
			if len(convs) != 1 || convs[0] != "c" {
				t.Fatalf("Conversations = %v, want [c]", convs)
			}
		})
	}
}

func TestFileSaveWritesSnapshotAndTruncatesJournal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.json")
	st := openDriver(t, "file", path, 20)
	defer st.Close()

	_ = st.Add(ctx, "c", Turn{Role: RoleUser, Content: "gm"})
	if err := st.Save(ctx); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if !strings.Contains(string(b), `"content": "gm"`) || !strings.Contains(string(b), `"timestamp"`) {
		t.Fatalf("snapshot = %s", b)
	}
	fi, err := os.Stat(filepath.Join(dir, "memory.journal.jsonl"))
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	if fi.Size() != 0 {
		t.Fatalf("journal size = %d, want 0 after Save", fi.Size())
	}
}

func TestFileReplaySkipsCompactedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.json")
	journal := filepath.Join(dir, "memory.journal.jsonl")

	st := openDriver(t, "file", path, 20)
	_ = st.Add(ctx, "c", Turn{Role: RoleUser, Content: "gm"})
	_ = st.Add(ctx, "c", Turn{Role: RoleAssistant, Content: "gm fren"})
	stale, err := os.ReadFile(journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if err := st.Save(ctx); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	_ = st.Add(ctx, "c", Turn{Role: RoleUser, Content: "wagmi"})
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Snapshot renamed but journal never truncated: the old records are back in front.
	fresh, err := os.ReadFile(journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if err := os.WriteFile(journal, append(stale, fresh...), 0o600); err != nil {
		t.Fatalf("write journal: %v", err)
	}

	st = openDriver(t, "file", path, 20)
	defer st.Close()
	turns, _ := st.History(ctx, "c", 0)
	if got := contents(turns); got != "gm,gm fren,wagmi" {
		t.Fatalf("history = %q, want gm,gm fren,wagmi", got)
	}

	// New writes continue the sequence and survive another reopen.
	_ = st.Add(ctx, "c", Turn{Role: RoleAssistant, Content: "lfg"})
	_ = st.Close()
	st = openDriver(t, "file", path, 20)
	defer st.Close()
	turns, _ = st.History(ctx, "c", 0)
	if got := contents(turns); got != "gm,gm fren,wagmi,lfg" {
		t.Fatalf("history after reopen = %q", got)
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	tests := []Config{
		{Driver: "postgres"},
		{Driver: "file"},
		{Driver: "sqlite"},
	}
	for _, cfg := range tests {
		if _, err := Open(cfg, logx.Nop()); err == nil {
			t.Fatalf("Open(%+v): expected error", cfg)
		}
	}
}
