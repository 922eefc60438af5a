package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/unipath/unipath/realtime/internal/model/chat"
)

// Tracker maps user id to last-known online/typing state with expiry. Expiry
// is the primary clearing mechanism: a typing flag lapses silently when no
// refresh arrives before its deadline, and online status lapses when
// heartbeats stop. Explicit stop signals clear immediately but are never
// required.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]record
	typingTTL time.Duration
	onlineTTL time.Duration
	now       func() time.Time
}

type record struct {
	lastSeen    time.Time
	typingUntil time.Time
}

// NewTracker builds a tracker with the given typing and heartbeat windows.
func NewTracker(typingTTL, onlineTTL time.Duration) *Tracker {
	return &Tracker{
		records:   make(map[string]record),
		typingTTL: typingTTL,
		onlineTTL: onlineTTL,
		now:       time.Now,
	}
}

// SetClock overrides the time source; tests drive expiry deterministically.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Apply updates state from one presence signal. Any signal counts as
// activity for online derivation.
func (t *Tracker) Apply(sig chat.PresenceSignal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := t.records[sig.UserID]
	rec.lastSeen = now

	switch sig.Kind {
	case chat.PresenceTypingStart:
		until := sig.ExpiresAt
		if until.IsZero() {
			until = now.Add(t.typingTTL)
		}
		rec.typingUntil = until
	case chat.PresenceTypingStop:
		rec.typingUntil = time.Time{}
	case chat.PresenceHeartbeat:
		// activity only
	}

	t.records[sig.UserID] = rec
	t.evictLocked(now)
}

// Typing returns the users whose typing flag has not expired, sorted for
// stable projection output.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.evictLocked(now)

	var users []string
	for id, rec := range t.records {
		if rec.typingUntil.After(now) {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// Online reports whether heartbeats for the user kept arriving within the
// timeout window. Silence past the window means offline, not unknown.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		return false
	}
	return t.now().Sub(rec.lastSeen) < t.onlineTTL
}

// OnlineUsers lists users currently inside the heartbeat window, sorted.
func (t *Tracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var users []string
	for id, rec := range t.records {
		if now.Sub(rec.lastSeen) < t.onlineTTL {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// evictLocked removes records with no recent activity. The tracker owns
// presence records outright and may evict at any time.
func (t *Tracker) evictLocked(now time.Time) {
	for id, rec := range t.records {
		if now.Sub(rec.lastSeen) >= t.onlineTTL && !rec.typingUntil.After(now) {
			delete(t.records, id)
		}
	}
}
