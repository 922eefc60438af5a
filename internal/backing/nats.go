package backing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
	"github.com/unipath/unipath/realtime/internal/stream"
)

const (
	messageSubjectPrefix  = "realtime.msg"
	presenceSubjectPrefix = "realtime.presence"
)

// NatsFeed implements Feed over NATS: JetStream for durable message records,
// core pub/sub for ephemeral presence signals. It is the process-scoped
// shared realtime client; conversation subscriptions are logical sub-channels
// against it.
type NatsFeed struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	streamName string

	mu   sync.Mutex
	subs map[*natsSub]struct{}
}

// NewNatsFeed connects to NATS and ensures the message stream exists.
func NewNatsFeed(url, streamName string) (*NatsFeed, error) {
	f := &NatsFeed{streamName: streamName, subs: make(map[*natsSub]struct{})}

	nc, err := nats.Connect(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("[feed] nats disconnected: %v", err)
			f.dropAll()
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("[feed] nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, streamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{messageSubjectPrefix + ".*"},
			MaxAge:   24 * time.Hour,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", streamName, err)
		}
	}

	f.nc = nc
	f.js = js
	return f, nil
}

type natsSub struct {
	feed       *NatsFeed
	events     chan event.Event
	consumeCtx jetstream.ConsumeContext
	presence   *nats.Subscription
	once       sync.Once

	mu     sync.Mutex
	closed bool
}

func (s *natsSub) Events() <-chan event.Event { return s.events }

// send delivers without blocking and reports whether the event landed. The
// closed check and the channel close share s.mu, so a delivery callback or a
// disconnect notification can never race a concurrent Close onto a closed
// channel.
func (s *natsSub) send(ev event.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *natsSub) Close() {
	s.once.Do(func() {
		if s.consumeCtx != nil {
			s.consumeCtx.Stop()
		}
		if s.presence != nil {
			_ = s.presence.Unsubscribe()
		}
		s.feed.forget(s)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// Subscribe opens an ephemeral consumer on the conversation's message
// subject plus a core subscription on its presence subject. Records that
// fail validation are logged and skipped at this boundary.
func (f *NatsFeed) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	sub := &natsSub{feed: f, events: make(chan event.Event, 256)}

	cons, err := f.js.CreateOrUpdateConsumer(ctx, f.streamName, jetstream.ConsumerConfig{
		FilterSubject: messageSubject(conversationID),
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer for %q: %w", conversationID, err)
	}

	deliver := func(data []byte) {
		ev, decErr := stream.DecodeRecord(data)
		if decErr != nil {
			log.Printf("[feed] skipping record: %v", decErr)
			return
		}
		if !sub.send(ev) {
			log.Printf("[feed] subscriber for %s gone or not draining, dropping event", conversationID)
		}
	}

	consumeCtx, err := cons.Consume(func(jsMsg jetstream.Msg) { deliver(jsMsg.Data()) })
	if err != nil {
		return nil, fmt.Errorf("failed to consume %q: %w", conversationID, err)
	}
	sub.consumeCtx = consumeCtx

	presenceSub, err := f.nc.Subscribe(presenceSubject(conversationID), func(m *nats.Msg) { deliver(m.Data) })
	if err != nil {
		consumeCtx.Stop()
		return nil, fmt.Errorf("failed to subscribe presence for %q: %w", conversationID, err)
	}
	sub.presence = presenceSub

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

// PublishMessage publishes the acknowledged record to JetStream so it
// re-enters every subscriber through the decode path.
func (f *NatsFeed) PublishMessage(ctx context.Context, msg chat.Message) error {
	m := msg
	data, err := stream.EncodeRecord(event.Event{Kind: event.MessageInserted, Message: &m})
	if err != nil {
		return fmt.Errorf("failed to marshal message record: %w", err)
	}
	if _, err := f.js.Publish(ctx, messageSubject(msg.ConversationID), data); err != nil {
		return fmt.Errorf("failed to publish message record: %w", err)
	}
	return nil
}

// PublishPresence publishes a presence signal on core NATS; presence is
// ephemeral and needs no replay.
func (f *NatsFeed) PublishPresence(_ context.Context, conversationID string, sig chat.PresenceSignal) error {
	s := sig
	data, err := stream.EncodeRecord(event.Event{Kind: event.PresenceChanged, Presence: &s})
	if err != nil {
		return fmt.Errorf("failed to marshal presence record: %w", err)
	}
	if err := f.nc.Publish(presenceSubject(conversationID), data); err != nil {
		return fmt.Errorf("failed to publish presence record: %w", err)
	}
	return nil
}

// Close unsubscribes all sub-channels, then closes the shared connection.
func (f *NatsFeed) Close() {
	f.dropAll()
	if f.nc != nil {
		f.nc.Close()
	}
}

func (f *NatsFeed) dropAll() {
	f.mu.Lock()
	subs := make([]*natsSub, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = make(map[*natsSub]struct{})
	f.mu.Unlock()

	for _, sub := range subs {
		sub.send(event.Event{Kind: event.ConnectionLost})
		sub.Close()
	}
}

func (f *NatsFeed) forget(sub *natsSub) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

func messageSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", messageSubjectPrefix, conversationID)
}

func presenceSubject(conversationID string) string {
	return fmt.Sprintf("%s.%s", presenceSubjectPrefix, conversationID)
}
