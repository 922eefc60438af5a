package backing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
)

func TestAppendPersistsThenPublishes(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()
	client := NewClient(NewMemoryStore(), feed)

	sub, err := client.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	saved, err := client.Append(context.Background(), chat.Message{
		ConversationID: "c1",
		SenderID:       "alice",
		Body:           "hello",
		ClientRef:      "prov-7",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("append must assign a server identity")
	}
	if saved.ClientRef != "prov-7" {
		t.Fatal("append must echo the caller's ClientRef")
	}
	if saved.Delivery != chat.DeliverySent {
		t.Fatalf("delivery = %q, want sent", saved.Delivery)
	}

	select {
	case ev := <-sub.Events():
		if ev.Kind != event.MessageInserted {
			t.Fatalf("event kind = %q", ev.Kind)
		}
		if ev.Message.ID != saved.ID || ev.Message.ClientRef != "prov-7" {
			t.Fatalf("published record does not match the persisted one: %+v", ev.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("acknowledged record never published")
	}

	// The write also shows up in history.
	history, err := client.History(context.Background(), "c1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].ID != saved.ID {
		t.Fatalf("history = %+v", history)
	}
}

func TestHistoryBounds(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var second chat.Message
	for i, body := range []string{"one", "two", "three"} {
		saved, err := store.Append(ctx, chat.Message{ConversationID: "c1", SenderID: "a", Body: body})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if i == 1 {
			second = saved
		}
		time.Sleep(time.Millisecond)
	}

	// Inclusive bound: the boundary message itself comes back too, so a
	// reconnect re-fetch can never miss an equal-timestamp record. The
	// overlap collapses by identity upstream.
	tail, err := store.History(ctx, "c1", second.CreatedAt, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(tail) != 2 || tail[0].Body != "two" || tail[1].Body != "three" {
		t.Fatalf("tail = %+v, want the boundary message and the third", tail)
	}

	// Limit keeps the newest entries.
	capped, err := store.History(ctx, "c1", time.Time{}, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(capped) != 2 || capped[0].Body != "two" || capped[1].Body != "three" {
		t.Fatalf("capped history = %+v", capped)
	}

	if _, err := store.History(ctx, "", time.Time{}, 0); err != ErrConversationRequired {
		t.Fatalf("expected ErrConversationRequired, got %v", err)
	}
}

func TestFeedScopesSubscriptionsByConversation(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	sub, err := feed.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if err := feed.PublishMessage(context.Background(), chat.Message{ID: "m1", ConversationID: "c2"}); err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("received event for another conversation: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropConnectionsSignalsLoss(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	sub, err := feed.Subscribe(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	feed.DropConnections("c1")

	ev, ok := <-sub.Events()
	if !ok {
		t.Fatal("expected a connection-lost event before the channel closed")
	}
	if ev.Kind != event.ConnectionLost {
		t.Fatalf("event kind = %q, want connection lost", ev.Kind)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("channel should be closed after the loss event")
	}
}

func TestDropConnectionsRacingCloseNeverPanics(t *testing.T) {
	feed := NewMemoryFeed()
	defer feed.Close()

	for i := 0; i < 500; i++ {
		sub, err := feed.Subscribe(context.Background(), "c1")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			feed.DropConnections("c1")
		}()
		wg.Wait()

		// Whichever side won, the channel must end up closed and drained.
		for range sub.Events() {
		}
	}
}

func TestDropConnectionsWithFullBufferNeverPanics(t *testing.T) {
	// A full buffer forces the loss notification down the non-send path; a
	// concurrent close must not turn that into a send on a closed channel.
	for i := 0; i < 200; i++ {
		feed := NewMemoryFeed()
		sub, err := feed.Subscribe(context.Background(), "c1")
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
		for j := 0; j < 64; j++ {
			if err := feed.PublishMessage(context.Background(), chat.Message{ID: "m", ConversationID: "c1"}); err != nil {
				t.Fatalf("PublishMessage: %v", err)
			}
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
		go func() {
			defer wg.Done()
			feed.DropConnections("c1")
		}()
		wg.Wait()

		for range sub.Events() {
		}
		feed.Close()
	}
}

func TestClosedFeedRefusesWork(t *testing.T) {
	feed := NewMemoryFeed()
	feed.Close()

	if _, err := feed.Subscribe(context.Background(), "c1"); err != ErrFeedClosed {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
	if err := feed.PublishMessage(context.Background(), chat.Message{ID: "m1", ConversationID: "c1"}); err != ErrFeedClosed {
		t.Fatalf("expected ErrFeedClosed, got %v", err)
	}
}
