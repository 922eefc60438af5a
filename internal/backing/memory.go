package backing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
)

// MemoryStore implements Store with in-memory maps, suitable for tests and
// for running without a configured backend.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  map[string][]chat.Message
	readMarks map[string]time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string][]chat.Message),
		readMarks: make(map[string]time.Time),
	}
}

// History returns messages for the conversation created at or after the
// given bound, in creation order, capped at limit when limit > 0. The bound
// is inclusive so a reconnect re-fetch cannot miss a record sharing the
// boundary timestamp; the overlap collapses by identity upstream.
func (s *MemoryStore) History(_ context.Context, conversationID string, after time.Time, limit int) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	out := make([]chat.Message, 0, len(all))
	for _, m := range all {
		if !after.IsZero() && m.CreatedAt.Before(after) {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Append assigns a server identity and timestamp, keeping the caller's
// ClientRef so optimistic entries can be reconciled.
func (s *MemoryStore) Append(_ context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ConversationID == "" {
		return chat.Message{}, ErrConversationRequired
	}

	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Delivery = chat.DeliverySent

	s.mu.Lock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	s.mu.Unlock()
	return msg, nil
}

// MarkRead records the server-side read receipt watermark.
func (s *MemoryStore) MarkRead(_ context.Context, viewerID, conversationID string, at time.Time) error {
	if conversationID == "" {
		return ErrConversationRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := viewerID + "/" + conversationID
	if at.After(s.readMarks[key]) {
		s.readMarks[key] = at
	}
	return nil
}

// MemoryFeed implements Feed with per-conversation subscriber channels. It
// is the synthetic event source used by tests and degraded mode.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[string][]*memorySub
	closed bool
}

// NewMemoryFeed returns an empty in-memory feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string][]*memorySub)}
}

type memorySub struct {
	feed           *MemoryFeed
	conversationID string
	events         chan event.Event
	once           sync.Once

	mu     sync.Mutex
	closed bool
}

func (s *memorySub) Events() <-chan event.Event { return s.events }

// send delivers without blocking. The closed check and the channel close
// share s.mu, so a send can never race a concurrent Close onto a closed
// channel.
func (s *memorySub) send(ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Subscriber is not draining; drop rather than block the feed.
	}
}

func (s *memorySub) Close() {
	s.once.Do(func() {
		s.feed.drop(s)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// Subscribe opens a buffered sub-channel for the conversation.
func (f *MemoryFeed) Subscribe(_ context.Context, conversationID string) (Subscription, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}

	sub := &memorySub{feed: f, conversationID: conversationID, events: make(chan event.Event, 64)}
	f.subs[conversationID] = append(f.subs[conversationID], sub)
	return sub, nil
}

// PublishMessage fans a message-inserted event out to the conversation's
// subscribers.
func (f *MemoryFeed) PublishMessage(_ context.Context, msg chat.Message) error {
	m := msg
	return f.publish(msg.ConversationID, event.Event{Kind: event.MessageInserted, Message: &m})
}

// PublishUpdate fans a message-updated event out to subscribers.
func (f *MemoryFeed) PublishUpdate(_ context.Context, msg chat.Message) error {
	m := msg
	return f.publish(msg.ConversationID, event.Event{Kind: event.MessageUpdated, Message: &m})
}

// PublishPresence fans a presence signal out to subscribers.
func (f *MemoryFeed) PublishPresence(_ context.Context, conversationID string, sig chat.PresenceSignal) error {
	s := sig
	return f.publish(conversationID, event.Event{Kind: event.PresenceChanged, Presence: &s})
}

// DropConnections simulates a transport failure: every subscriber receives
// ConnectionLost and its channel closes.
func (f *MemoryFeed) DropConnections(conversationID string) {
	f.mu.Lock()
	subs := f.subs[conversationID]
	delete(f.subs, conversationID)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.send(event.Event{Kind: event.ConnectionLost})
		sub.Close()
	}
}

// Close tears down all sub-channels before the shared feed goes away.
func (f *MemoryFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	var all []*memorySub
	for _, subs := range f.subs {
		all = append(all, subs...)
	}
	f.subs = make(map[string][]*memorySub)
	f.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (f *MemoryFeed) publish(conversationID string, ev event.Event) error {
	if conversationID == "" {
		return ErrConversationRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	for _, sub := range f.subs[conversationID] {
		sub.send(ev)
	}
	return nil
}

func (f *MemoryFeed) drop(target *memorySub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.subs[target.conversationID]
	for i, sub := range subs {
		if sub == target {
			f.subs[target.conversationID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
