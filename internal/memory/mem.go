package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// memStore holds trimmed histories in a map. The file driver builds on it.
type memStore struct {
	mu     sync.RWMutex
	max    int
	convs  map[string][]Turn
	closed bool
}

func newMemStore(max int) *memStore {
	return &memStore{max: max, convs: map[string][]Turn{}}
}

func (s *memStore) Add(ctx context.Context, conversationID string, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.addLocked(conversationID, t)
	return nil
}

func (s *memStore) addLocked(conversationID string, t Turn) {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	h := append(s.convs[conversationID], t)
	if over := len(h) - s.max; over > 0 {
		h = slices.Clone(h[over:])
	}
	s.convs[conversationID] = h
}

func (s *memStore) History(ctx context.Context, conversationID string, lastN int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	h := s.convs[conversationID]
	if lastN > 0 && len(h) > lastN {
		h = h[len(h)-lastN:]
	}
	return slices.Clone(h), nil
}

func (s *memStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.convs, conversationID)
	return nil
}

func (s *memStore) Conversations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(s.convs))
	for id := range s.convs {
		out = append(out, id)
	}
	slices.SortFunc(out, strings.Compare)
	return out, nil
}

func (s *memStore) Save(ctx context.Context) error { return nil }

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
