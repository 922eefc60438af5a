package outbound

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unipath/unipath/realtime/internal/backing"
	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/service/thread"
	"github.com/unipath/unipath/realtime/internal/telemetry"
)

var (
	ErrEmptyBody    = errors.New("message body is empty")
	ErrNotRetryable = errors.New("message is not in the failed state")
)

// Composer validates and dispatches locally composed messages. Each send
// renders an optimistic pending entry immediately; the acknowledgment
// re-enters through the feed and is reconciled by the synchronizer, so there
// is no separate "sent" code path.
type Composer struct {
	client     *backing.Client
	threads    *thread.Store
	senderID   string
	ackTimeout time.Duration
}

// NewComposer builds a composer for one local sender.
func NewComposer(client *backing.Client, threads *thread.Store, senderID string, ackTimeout time.Duration) *Composer {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &Composer{
		client:     client,
		threads:    threads,
		senderID:   senderID,
		ackTimeout: ackTimeout,
	}
}

// Send validates the body, appends a provisional pending entry, and issues
// the write. The provisional message is returned immediately for optimistic
// rendering. If no acknowledgment reconciles the entry within the bounded
// wait it transitions to failed and stays visible for retry.
func (c *Composer) Send(ctx context.Context, conversationID, body string) (chat.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return chat.Message{}, ErrEmptyBody
	}
	if conversationID == "" {
		return chat.Message{}, backing.ErrConversationRequired
	}

	provisional := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       c.senderID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
		Delivery:       chat.DeliveryPending,
	}
	c.threads.Append(provisional)
	telemetry.MessagesSent.Inc()

	go c.dispatch(provisional)
	return provisional, nil
}

// Retry re-issues a failed entry's body under a new provisional identity.
// The old failed entry is left alone so the identity history stays
// unambiguous.
func (c *Composer) Retry(ctx context.Context, conversationID, failedID string) (chat.Message, error) {
	failed, ok := c.threads.Get(conversationID, failedID)
	if !ok || failed.Delivery != chat.DeliveryFailed {
		return chat.Message{}, ErrNotRetryable
	}
	return c.Send(ctx, conversationID, failed.Body)
}

// dispatch issues the write and arms the acknowledgment watchdog. It runs
// off the caller's request context on purpose: an optimistic send must
// resolve to sent or failed even after the originating request returns.
func (c *Composer) dispatch(provisional chat.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()

	outbound := provisional
	outbound.ID = ""
	outbound.ClientRef = provisional.ID
	outbound.Delivery = ""

	if _, err := c.client.Append(ctx, outbound); err != nil {
		log.Printf("[outbound] write failed for %s: %v", provisional.ID, err)
		if c.threads.MarkFailed(provisional.ConversationID, provisional.ID) {
			telemetry.SendFailures.Inc()
		}
		return
	}

	// The write succeeded; the acknowledged record travels back through the
	// feed and the synchronizer reconciles it. Poll so the watchdog releases
	// as soon as the entry leaves pending, and guard against the
	// acknowledgment never arriving.
	poll := c.ackTimeout / 10
	if poll > 50*time.Millisecond {
		poll = 50 * time.Millisecond
	}
	if poll <= 0 {
		poll = time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(c.ackTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if current, ok := c.threads.Get(provisional.ConversationID, provisional.ID); !ok || current.Delivery != chat.DeliveryPending {
				return
			}
		case <-deadline.C:
			if current, ok := c.threads.Get(provisional.ConversationID, provisional.ID); ok && current.Delivery == chat.DeliveryPending {
				log.Printf("[outbound] no acknowledgment for %s within %s, marking failed", provisional.ID, c.ackTimeout)
				if c.threads.MarkFailed(provisional.ConversationID, provisional.ID) {
					telemetry.SendFailures.Inc()
				}
			}
			return
		}
	}
}
