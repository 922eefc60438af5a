package unread

import (
	"sync"
	"time"

	"github.com/unipath/unipath/realtime/internal/model/chat"
)

// Store is the swappable key-value persistence for read watermarks, keyed by
// (viewer, conversation). Implementations must survive process restarts or
// declare themselves volatile.
type Store interface {
	Get(viewerID, conversationID string) (time.Time, bool, error)
	Set(viewerID, conversationID string, at time.Time) error
	Close() error
}

// Ledger derives per-conversation unread counts from read watermarks. It
// holds no message state of its own.
type Ledger struct {
	mu    sync.Mutex
	store Store
}

// NewLedger wraps a watermark store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Watermark returns the viewer's last acknowledged read time for the
// conversation, or the zero time when none was recorded yet.
func (l *Ledger) Watermark(viewerID, conversationID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok, err := l.store.Get(viewerID, conversationID)
	if err != nil || !ok {
		return time.Time{}
	}
	return at
}

// Advance moves the watermark forward to at. Watermarks never move
// backward; an older timestamp is ignored.
func (l *Ledger) Advance(viewerID, conversationID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok, err := l.store.Get(viewerID, conversationID)
	if err != nil {
		return err
	}
	if ok && !at.After(current) {
		return nil
	}
	return l.store.Set(viewerID, conversationID, at)
}

// Count returns how many of the given messages are unread for the viewer:
// newer than the watermark and not authored by the viewer. Self-sent
// messages never count toward the sender's own total.
func (l *Ledger) Count(viewerID, conversationID string, messages []chat.Message) int {
	mark := l.Watermark(viewerID, conversationID)

	n := 0
	for _, m := range messages {
		if m.SenderID == viewerID {
			continue
		}
		if m.CreatedAt.After(mark) {
			n++
		}
	}
	return n
}
