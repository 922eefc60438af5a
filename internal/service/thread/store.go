package thread

import (
	"sort"
	"sync"
	"time"

	"github.com/unipath/unipath/realtime/internal/model/chat"
)

// Store is the in-memory, per-conversation ordered log of messages. The
// synchronization loop is the single writer; everything else reads copies.
type Store struct {
	mu   sync.RWMutex
	logs map[string][]chat.Message
}

// NewStore returns an empty thread store.
func NewStore() *Store {
	return &Store{logs: make(map[string][]chat.Message)}
}

// Append adds a message to its conversation log in arrival order. Appending
// an identity already present is a no-op; the return value reports whether
// the entry was actually added.
func (s *Store) Append(msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.logs[msg.ConversationID] {
		if existing.ID == msg.ID {
			return false
		}
	}
	s.logs[msg.ConversationID] = append(s.logs[msg.ConversationID], msg)
	return true
}

// Update rewrites delivery-state metadata for an existing entry. Server-
// acknowledged content is immutable, so only metadata moves.
func (s *Store) Update(msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[msg.ConversationID]
	for i := range log {
		if log[i].ID == msg.ID {
			log[i].Delivery = msg.Delivery
			return true
		}
	}
	return false
}

// Reconcile replaces the provisional entry identified by clientRef with the
// authoritative record, inserted at the position implied by its timestamp.
// The log length is unchanged by the replace. Returns false when no
// provisional entry matches, in which case the caller should append instead.
func (s *Store) Reconcile(conversationID, clientRef string, authoritative chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[conversationID]
	idx := -1
	for i := range log {
		if log[i].ID == clientRef {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	// Never end up holding both the provisional and its authoritative
	// counterpart.
	for _, existing := range log {
		if existing.ID == authoritative.ID {
			s.logs[conversationID] = append(log[:idx], log[idx+1:]...)
			return true
		}
	}

	log = append(log[:idx], log[idx+1:]...)
	pos := len(log)
	for pos > 0 && log[pos-1].CreatedAt.After(authoritative.CreatedAt) {
		pos--
	}
	log = append(log, chat.Message{})
	copy(log[pos+1:], log[pos:])
	log[pos] = authoritative
	s.logs[conversationID] = log
	return true
}

// MarkFailed transitions a provisional entry to the failed delivery state.
// The entry stays visible so the user can retry.
func (s *Store) MarkFailed(conversationID, provisionalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[conversationID]
	for i := range log {
		if log[i].ID == provisionalID {
			if log[i].Delivery != chat.DeliveryPending {
				return false
			}
			log[i].Delivery = chat.DeliveryFailed
			return true
		}
	}
	return false
}

// Get returns a single entry by identity.
func (s *Store) Get(conversationID, id string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.logs[conversationID] {
		if m.ID == id {
			return m, true
		}
	}
	return chat.Message{}, false
}

// Messages returns a copy of the conversation log in stored order.
func (s *Store) Messages(conversationID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	out := make([]chat.Message, len(log))
	copy(out, log)
	return out
}

// Latest returns the maximum-timestamp message known for the conversation.
func (s *Store) Latest(conversationID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest chat.Message
	found := false
	for _, m := range s.logs[conversationID] {
		if !found || m.CreatedAt.After(latest.CreatedAt) {
			latest = m
			found = true
		}
	}
	return latest, found
}

// LatestTimestamp returns the newest known creation time, or the zero time
// for an empty log. Used to bound tail re-fetches after a reconnect.
func (s *Store) LatestTimestamp(conversationID string) time.Time {
	latest, ok := s.Latest(conversationID)
	if !ok {
		return time.Time{}
	}
	return latest.CreatedAt
}

// Conversations lists every conversation holding at least one entry, sorted
// for stable list rendering.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.logs))
	for id, log := range s.logs {
		if len(log) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len reports the current log length for a conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[conversationID])
}
