package backing

import (
	"context"
	"errors"
	"time"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
)

var (
	ErrConversationRequired = errors.New("conversation id is required")
	ErrFeedClosed           = errors.New("feed is closed")
)

// Store is the conversation CRUD surface of the hosted backend. History is
// ordered by creation time; Append assigns the authoritative identity and
// echoes the caller's ClientRef on the returned record.
type Store interface {
	History(ctx context.Context, conversationID string, after time.Time, limit int) ([]chat.Message, error)
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	MarkRead(ctx context.Context, viewerID, conversationID string, at time.Time) error
}

// Feed is the change-notification channel. The engine assumes only that it
// delivers ordered, at-least-once, id-bearing records per subscription.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)
	PublishMessage(ctx context.Context, msg chat.Message) error
	PublishPresence(ctx context.Context, conversationID string, sig chat.PresenceSignal) error
	Close()
}

// Subscription is one logical sub-channel against the shared feed. The event
// channel closes after ConnectionLost or Close; reopening is the caller's
// decision.
type Subscription interface {
	Events() <-chan event.Event
	Close()
}

// Client bundles the store with the feed so a local write and its
// acknowledgment travel one path: Append persists the record, then publishes
// it, and the acknowledged copy re-enters through the subscription like any
// remote message.
type Client struct {
	store Store
	feed  Feed
}

// NewClient wires a store and a feed together.
func NewClient(store Store, feed Feed) *Client {
	return &Client{store: store, feed: feed}
}

// History delegates to the store.
func (c *Client) History(ctx context.Context, conversationID string, after time.Time, limit int) ([]chat.Message, error) {
	return c.store.History(ctx, conversationID, after, limit)
}

// Append persists the message and announces it on the feed.
func (c *Client) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	saved, err := c.store.Append(ctx, msg)
	if err != nil {
		return chat.Message{}, err
	}
	if err := c.feed.PublishMessage(ctx, saved); err != nil {
		return saved, err
	}
	return saved, nil
}

// MarkRead advances the server-side read receipt.
func (c *Client) MarkRead(ctx context.Context, viewerID, conversationID string, at time.Time) error {
	return c.store.MarkRead(ctx, viewerID, conversationID, at)
}

// Subscribe opens a logical sub-channel for one conversation.
func (c *Client) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	return c.feed.Subscribe(ctx, conversationID)
}

// PublishPresence forwards a presence signal to the feed.
func (c *Client) PublishPresence(ctx context.Context, conversationID string, sig chat.PresenceSignal) error {
	return c.feed.PublishPresence(ctx, conversationID, sig)
}
