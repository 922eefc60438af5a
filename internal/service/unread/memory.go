package unread

import (
	"sync"
	"time"
)

// MemoryStore keeps watermarks in a map. Volatile; used by tests and when no
// database path is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

// NewMemoryStore returns an empty volatile watermark store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]time.Time)}
}

func (s *MemoryStore) Get(viewerID, conversationID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.marks[viewerID+"/"+conversationID]
	return at, ok, nil
}

func (s *MemoryStore) Set(viewerID, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[viewerID+"/"+conversationID] = at
	return nil
}

func (s *MemoryStore) Close() error { return nil }
