package balancecache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	balance int64
	expires time.Time
}

// MemoryStore keeps entries in process memory. Expired entries are removed
// lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userID]
	if !ok {
		return 0, false, nil
	}

	if !s.now().Before(e.expires) {
		delete(s.entries, userID)
		return 0, false, nil
	}

	return e.balance, true, nil
}

func (s *MemoryStore) Set(_ context.Context, userID string, balance int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[userID] = memEntry{balance: balance, expires: s.now().Add(ttl)}

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, userID)

	return nil
}
