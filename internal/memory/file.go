package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "pepe/pkg/logx"
)

// fileStore persists histories without a database.
//
// Files:
//   - <path>                    (JSON snapshot: last journal seq + turns)
//   - <prefix>.journal.jsonl    (append-only journal since the last snapshot)
//
// Save compacts the journal into the snapshot. Journal records carry a
// sequence number; replay skips those the snapshot already holds, so a crash
// between the snapshot rename and the journal truncate loses nothing and
// duplicates nothing.
type fileStore struct {
	*memStore
	log logx.Logger

	snapshotPath string
	journal      *os.File
	writes       int
	seq          uint64
}

type snapshot struct {
	Seq           uint64            `json:"seq"`
	Conversations map[string][]Turn `json:"conversations"`
}

type journalRecord struct {
	Seq          uint64 `json:"seq"`
	Op           string `json:"op"`
	Conversation string `json:"conversation"`
	Turn         *Turn  `json:"turn,omitempty"`
}

const compactEvery = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("memory.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	journalPath := filepath.Join(dir, base) + ".journal.jsonl"

	mem := newMemStore(cfg.limit())
	snapSeq, err := loadSnapshot(path, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("memory snapshot unreadable; starting empty", logx.String("path", path), logx.Err(err))
	}
	replayed, seq, err := replayJournal(journalPath, mem, snapSeq)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("memory journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("memory loaded",
		logx.String("path", path),
		logx.Int("conversations", len(mem.convs)),
		logx.Int("journal_records", replayed),
	)
	return &fileStore{memStore: mem, log: log, snapshotPath: path, journal: jf, seq: seq}, nil
}

func (s *fileStore) Add(ctx context.Context, conversationID string, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.addLocked(conversationID, t)
	h := s.convs[conversationID]
	last := h[len(h)-1]
	return s.appendLocked(journalRecord{Op: "add", Conversation: conversationID, Turn: &last})
}

func (s *fileStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.convs, conversationID)
	return s.appendLocked(journalRecord{Op: "clear", Conversation: conversationID})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	s.seq++
	r.Seq = s.seq
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("memory compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot{Seq: s.seq, Conversations: s.convs}); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.journal.Close()
}

// loadSnapshot fills mem and returns the last journal seq the snapshot covers.
func loadSnapshot(path string, mem *memStore) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return 0, err
	}
	for id, turns := range snap.Conversations {
		for _, t := range turns {
			mem.addLocked(id, t)
		}
	}
	return snap.Seq, nil
}

// replayJournal applies records newer than after. It returns the number
// applied and the highest seq seen.
func replayJournal(path string, mem *memStore, after uint64) (int, uint64, error) {
	last := after
	f, err := os.Open(path)
	if err != nil {
		return 0, last, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Conversation == "" {
			continue
		}
		if r.Seq <= after {
			continue
		}
		last = max(last, r.Seq)
		switch r.Op {
		case "add":
			if r.Turn != nil {
				mem.addLocked(r.Conversation, *r.Turn)
			}
		case "clear":
			delete(mem.convs, r.Conversation)
		default:
			continue
		}
		n++
	}
	return n, last, sc.Err()
}
