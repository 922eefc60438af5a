package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/unipath/unipath/realtime/internal/backing"
	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
	"github.com/unipath/unipath/realtime/internal/service/presence"
	"github.com/unipath/unipath/realtime/internal/service/thread"
	"github.com/unipath/unipath/realtime/internal/service/unread"
	"github.com/unipath/unipath/realtime/internal/telemetry"
)

var (
	ErrSelectionSuperseded = errors.New("selection superseded by a newer one")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
)

// State is the per-conversation synchronization lifecycle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLive    State = "live"
)

// Snapshot is the read-only projection the UI renders from. It is a copy;
// mutating it has no effect on engine state.
type Snapshot struct {
	ConversationID string         `json:"conversationId"`
	State          State          `json:"state"`
	Messages       []chat.Message `json:"messages"`
	Latest         *chat.Message  `json:"latest,omitempty"`
	UnreadCount    int            `json:"unreadCount"`
	TypingUsers    []string       `json:"typingUsers"`
	OnlineUsers    []string       `json:"onlineUsers"`
	LastError      string         `json:"lastError,omitempty"`
}

// Synchronizer orchestrates the subscription lifecycle for the selected
// conversation and feeds decoded events into the thread store, unread
// ledger and presence tracker. It is the sole writer to all three.
type Synchronizer struct {
	viewerID          string
	client            *backing.Client
	threads           *thread.Store
	ledger            *unread.Ledger
	presence          *presence.Tracker
	historyLimit      int
	reconnectAttempts int
	reconnectBackoff  time.Duration

	mu         sync.Mutex
	current    *session
	lastErrors map[string]string
}

type session struct {
	conversationID string
	cancel         context.CancelFunc
	done           chan struct{}

	mu      sync.Mutex
	state   State
	viewing bool
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) isViewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing
}

// Options tune reconnect behavior and history depth.
type Options struct {
	HistoryLimit      int
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

// New builds a synchronizer for one viewer.
func New(viewerID string, client *backing.Client, threads *thread.Store, ledger *unread.Ledger, tracker *presence.Tracker, opts Options) *Synchronizer {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 5
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = 200 * time.Millisecond
	}
	return &Synchronizer{
		viewerID:          viewerID,
		client:            client,
		threads:           threads,
		ledger:            ledger,
		presence:          tracker,
		historyLimit:      opts.HistoryLimit,
		reconnectAttempts: opts.ReconnectAttempts,
		reconnectBackoff:  opts.ReconnectBackoff,
		lastErrors:        make(map[string]string),
	}
}

// Select makes conversationID the active conversation: any previous
// selection is cancelled, history is fetched, and a subscription goes live.
// A history failure is returned as a retryable error and never swallowed
// into an empty list. Selecting the already-active conversation is a no-op.
func (s *Synchronizer) Select(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return backing.ErrConversationRequired
	}

	s.mu.Lock()
	if s.current != nil && s.current.conversationID == conversationID {
		s.mu.Unlock()
		return nil
	}
	if s.current != nil {
		s.current.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conversationID: conversationID,
		cancel:         cancel,
		done:           make(chan struct{}),
		state:          StateLoading,
	}
	s.current = sess
	s.mu.Unlock()

	history, err := s.client.History(ctx, conversationID, time.Time{}, s.historyLimit)
	if err != nil {
		s.retire(sess)
		close(sess.done)
		err = fmt.Errorf("history fetch failed: %w", err)
		s.recordError(conversationID, err)
		return err
	}

	// A newer selection may have started while the fetch was in flight; its
	// late response must not be applied.
	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		cancel()
		close(sess.done)
		return ErrSelectionSuperseded
	}
	s.mu.Unlock()

	for _, m := range history {
		if m.Delivery == "" {
			m.Delivery = chat.DeliverySent
		}
		s.threads.Append(m)
	}

	sub, err := s.client.Subscribe(runCtx, conversationID)
	if err != nil {
		s.retire(sess)
		close(sess.done)
		err = fmt.Errorf("subscribe failed: %w", err)
		s.recordError(conversationID, err)
		return err
	}

	s.clearError(conversationID)
	sess.setState(StateLive)
	go s.run(runCtx, sess, sub)
	return nil
}

// Deselect tears down the active subscription, returning to idle.
func (s *Synchronizer) Deselect() {
	s.mu.Lock()
	sess := s.current
	s.current = nil
	s.mu.Unlock()

	if sess != nil {
		sess.cancel()
		<-sess.done
	}
}

// Close releases the active selection. The shared feed itself is owned by
// the caller and closed separately.
func (s *Synchronizer) Close() {
	s.Deselect()
}

// SetViewing marks whether the viewer is actively looking at the selected
// conversation. While viewing, the watermark advances as new messages
// arrive; a selected-but-backgrounded conversation accrues unread counts.
func (s *Synchronizer) SetViewing(conversationID string, viewing bool) {
	s.mu.Lock()
	sess := s.current
	s.mu.Unlock()

	if sess == nil || sess.conversationID != conversationID {
		return
	}
	sess.mu.Lock()
	sess.viewing = viewing
	sess.mu.Unlock()
}

// MarkRead explicitly advances the viewer's watermark to now and notifies
// the server-side read receipt.
func (s *Synchronizer) MarkRead(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	if err := s.ledger.Advance(s.viewerID, conversationID, now); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	if err := s.client.MarkRead(ctx, s.viewerID, conversationID, now); err != nil {
		// The local watermark already advanced; the server receipt is
		// best-effort and will be retried on the next mark.
		log.Printf("[syncer] read receipt failed for %s: %v", conversationID, err)
	}
	return nil
}

// Projection returns the current read-only snapshot for a conversation.
func (s *Synchronizer) Projection(conversationID string) Snapshot {
	messages := s.threads.Messages(conversationID)

	snap := Snapshot{
		ConversationID: conversationID,
		State:          StateIdle,
		Messages:       messages,
		UnreadCount:    s.ledger.Count(s.viewerID, conversationID, messages),
		TypingUsers:    s.presence.Typing(),
		OnlineUsers:    s.presence.OnlineUsers(),
	}
	if latest, ok := s.threads.Latest(conversationID); ok {
		snap.Latest = &latest
	}

	s.mu.Lock()
	if s.current != nil && s.current.conversationID == conversationID {
		snap.State = s.current.getState()
	}
	snap.LastError = s.lastErrors[conversationID]
	s.mu.Unlock()
	return snap
}

// Summaries returns the thread-list view: one entry per known conversation
// with its latest message and unread count.
func (s *Synchronizer) Summaries() []chat.Conversation {
	ids := s.threads.Conversations()
	out := make([]chat.Conversation, 0, len(ids))
	for _, id := range ids {
		summary := chat.Conversation{
			ID:     id,
			Unread: s.ledger.Count(s.viewerID, id, s.threads.Messages(id)),
		}
		if latest, ok := s.threads.Latest(id); ok {
			summary.Latest = &latest
		}
		out = append(out, summary)
	}
	return out
}

// run is the event loop for one live subscription. Events are applied in
// arrival order; the loop never re-sorts by timestamp, so clock skew at the
// source surfaces instead of being hidden.
func (s *Synchronizer) run(ctx context.Context, sess *session, sub backing.Subscription) {
	defer close(sess.done)
	defer func() { sub.Close() }()
	defer sess.setState(StateIdle)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok || ev.Kind == event.ConnectionLost {
				sub.Close()
				next := s.resubscribe(ctx, sess)
				if next == nil {
					return
				}
				sub = next
				continue
			}
			s.apply(sess, ev)
		}
	}
}

// resubscribe reopens the subscription after connection loss, re-fetching
// the history tail from the last known timestamp (inclusive, so a record
// sharing the boundary timestamp is not missed) and deduplicating by
// identity before appending.
func (s *Synchronizer) resubscribe(ctx context.Context, sess *session) backing.Subscription {
	backoff := s.reconnectBackoff
	for attempt := 1; attempt <= s.reconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2

		sub, err := s.client.Subscribe(ctx, sess.conversationID)
		if err != nil {
			log.Printf("[syncer] resubscribe attempt %d for %s failed: %v", attempt, sess.conversationID, err)
			continue
		}

		after := s.threads.LatestTimestamp(sess.conversationID)
		tail, err := s.client.History(ctx, sess.conversationID, after, 0)
		if err != nil {
			log.Printf("[syncer] tail fetch for %s failed: %v", sess.conversationID, err)
			sub.Close()
			continue
		}
		for _, m := range tail {
			if m.Delivery == "" {
				m.Delivery = chat.DeliverySent
			}
			s.threads.Append(m) // idempotent by identity
		}

		telemetry.Reconnects.Inc()
		log.Printf("[syncer] resubscribed to %s after connection loss", sess.conversationID)
		return sub
	}

	s.recordError(sess.conversationID, ErrReconnectExhausted)
	log.Printf("[syncer] giving up on %s: %v", sess.conversationID, ErrReconnectExhausted)
	return nil
}

func (s *Synchronizer) apply(sess *session, ev event.Event) {
	switch ev.Kind {
	case event.MessageInserted:
		msg := *ev.Message
		if msg.Delivery == "" {
			msg.Delivery = chat.DeliverySent
		}
		if msg.ClientRef != "" && s.threads.Reconcile(msg.ConversationID, msg.ClientRef, msg) {
			// Optimistic entry replaced by the authoritative record.
		} else {
			s.threads.Append(msg)
		}
		if msg.SenderID != s.viewerID && sess.isViewing() {
			if err := s.ledger.Advance(s.viewerID, msg.ConversationID, time.Now().UTC()); err != nil {
				log.Printf("[syncer] watermark advance failed for %s: %v", msg.ConversationID, err)
			}
		}
	case event.MessageUpdated:
		s.threads.Update(*ev.Message)
	case event.PresenceChanged:
		if ev.Presence.UserID != s.viewerID {
			s.presence.Apply(*ev.Presence)
		}
	default:
		log.Printf("[syncer] ignoring event kind %q", ev.Kind)
		return
	}
	telemetry.EventsApplied.Inc()
}

func (s *Synchronizer) retire(sess *session) {
	sess.cancel()
	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()
}

func (s *Synchronizer) recordError(conversationID string, err error) {
	s.mu.Lock()
	s.lastErrors[conversationID] = err.Error()
	s.mu.Unlock()
}

func (s *Synchronizer) clearError(conversationID string) {
	s.mu.Lock()
	delete(s.lastErrors, conversationID)
	s.mu.Unlock()
}
