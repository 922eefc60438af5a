package presence

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/unipath/unipath/realtime/internal/model/chat"
)

// Publisher is the outbound half of the presence channel.
type Publisher interface {
	PublishPresence(ctx context.Context, conversationID string, sig chat.PresenceSignal) error
}

// Emitter publishes the local user's typing and heartbeat signals. Continued
// typing must re-emit before the TTL lapses, so refreshes are throttled to
// half the TTL rather than sent on every keystroke.
type Emitter struct {
	pub       Publisher
	userID    string
	typingTTL time.Duration
	limiter   *rate.Limiter
}

// NewEmitter builds an emitter for one local user.
func NewEmitter(pub Publisher, userID string, typingTTL time.Duration) *Emitter {
	return &Emitter{
		pub:       pub,
		userID:    userID,
		typingTTL: typingTTL,
		limiter:   rate.NewLimiter(rate.Every(typingTTL/2), 1),
	}
}

// StartTyping emits a typing signal with a fresh expiry. Calls inside the
// throttle window are dropped; the previous signal still covers them.
func (e *Emitter) StartTyping(ctx context.Context, conversationID string) error {
	if !e.limiter.Allow() {
		return nil
	}
	now := time.Now().UTC()
	return e.pub.PublishPresence(ctx, conversationID, chat.PresenceSignal{
		UserID:    e.userID,
		Kind:      chat.PresenceTypingStart,
		At:        now,
		ExpiresAt: now.Add(e.typingTTL),
	})
}

// StopTyping emits an immediate clear, bypassing the throttle.
func (e *Emitter) StopTyping(ctx context.Context, conversationID string) error {
	return e.pub.PublishPresence(ctx, conversationID, chat.PresenceSignal{
		UserID: e.userID,
		Kind:   chat.PresenceTypingStop,
		At:     time.Now().UTC(),
	})
}

// Heartbeat announces the user is still here.
func (e *Emitter) Heartbeat(ctx context.Context, conversationID string) error {
	return e.pub.PublishPresence(ctx, conversationID, chat.PresenceSignal{
		UserID: e.userID,
		Kind:   chat.PresenceHeartbeat,
		At:     time.Now().UTC(),
	})
}
