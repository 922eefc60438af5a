package outbound_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/unipath/unipath/realtime/internal/backing"
	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/service/outbound"
	"github.com/unipath/unipath/realtime/internal/service/presence"
	"github.com/unipath/unipath/realtime/internal/service/syncer"
	"github.com/unipath/unipath/realtime/internal/service/thread"
	"github.com/unipath/unipath/realtime/internal/service/unread"
)

const senderID = "viewer"

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSendRejectsEmptyBody(t *testing.T) {
	threads := thread.NewStore()
	client := backing.NewClient(backing.NewMemoryStore(), backing.NewMemoryFeed())
	composer := outbound.NewComposer(client, threads, senderID, time.Second)

	if _, err := composer.Send(context.Background(), "c1", ""); !errors.Is(err, outbound.ErrEmptyBody) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	if _, err := composer.Send(context.Background(), "c1", "   \n\t"); !errors.Is(err, outbound.ErrEmptyBody) {
		t.Fatalf("whitespace-only body should be rejected, got %v", err)
	}
	if _, err := composer.Send(context.Background(), "", "hello"); !errors.Is(err, backing.ErrConversationRequired) {
		t.Fatalf("expected ErrConversationRequired, got %v", err)
	}
}

func TestSendRendersProvisionalImmediately(t *testing.T) {
	threads := thread.NewStore()
	client := backing.NewClient(backing.NewMemoryStore(), backing.NewMemoryFeed())
	composer := outbound.NewComposer(client, threads, senderID, time.Second)

	provisional, err := composer.Send(context.Background(), "c1", "  hello  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if provisional.Delivery != chat.DeliveryPending {
		t.Fatalf("delivery = %q, want pending", provisional.Delivery)
	}
	if provisional.Body != "hello" {
		t.Fatalf("body not trimmed: %q", provisional.Body)
	}

	got, ok := threads.Get("c1", provisional.ID)
	if !ok || got.Delivery != chat.DeliveryPending {
		t.Fatal("provisional entry not rendered in the thread store")
	}
}

func TestSendReconcilesThroughTheFeed(t *testing.T) {
	feed := backing.NewMemoryFeed()
	defer feed.Close()
	client := backing.NewClient(backing.NewMemoryStore(), feed)
	threads := thread.NewStore()
	ledger := unread.NewLedger(unread.NewMemoryStore())
	tracker := presence.NewTracker(4*time.Second, 30*time.Second)

	sync := syncer.New(senderID, client, threads, ledger, tracker, syncer.Options{})
	defer sync.Close()
	if err := sync.Select(context.Background(), "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	composer := outbound.NewComposer(client, threads, senderID, 2*time.Second)
	provisional, err := composer.Send(context.Background(), "c1", "hello advisor")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The acknowledgment travels store -> feed -> synchronizer and replaces
	// the provisional entry in place.
	waitFor(t, func() bool {
		if _, ok := threads.Get("c1", provisional.ID); ok {
			return false
		}
		msgs := threads.Messages("c1")
		return len(msgs) == 1 && msgs[0].Delivery == chat.DeliverySent && msgs[0].Body == "hello advisor"
	}, "provisional entry never reconciled with the acknowledgment")
}

func TestReconciledSendNeverFlipsToFailed(t *testing.T) {
	feed := backing.NewMemoryFeed()
	defer feed.Close()
	client := backing.NewClient(backing.NewMemoryStore(), feed)
	threads := thread.NewStore()
	ledger := unread.NewLedger(unread.NewMemoryStore())
	tracker := presence.NewTracker(4*time.Second, 30*time.Second)

	sync := syncer.New(senderID, client, threads, ledger, tracker, syncer.Options{})
	defer sync.Close()
	if err := sync.Select(context.Background(), "c1"); err != nil {
		t.Fatalf("Select: %v", err)
	}

	composer := outbound.NewComposer(client, threads, senderID, 80*time.Millisecond)
	provisional, err := composer.Send(context.Background(), "c1", "quick ack")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool {
		_, stillProvisional := threads.Get("c1", provisional.ID)
		return !stillProvisional
	}, "provisional entry never reconciled")

	// The watchdog deadline passes; the reconciled entry must stay sent.
	time.Sleep(200 * time.Millisecond)
	msgs := threads.Messages("c1")
	if len(msgs) != 1 || msgs[0].Delivery != chat.DeliverySent {
		t.Fatalf("reconciled entry regressed: %+v", msgs)
	}
}

func TestSendMarksFailedWithoutAcknowledgment(t *testing.T) {
	// No synchronizer is running, so the acknowledgment never reconciles the
	// provisional entry and the watchdog fires.
	threads := thread.NewStore()
	client := backing.NewClient(backing.NewMemoryStore(), backing.NewMemoryFeed())
	composer := outbound.NewComposer(client, threads, senderID, 30*time.Millisecond)

	provisional, err := composer.Send(context.Background(), "c1", "anyone there?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool {
		got, ok := threads.Get("c1", provisional.ID)
		return ok && got.Delivery == chat.DeliveryFailed
	}, "unacknowledged send never transitioned to failed")
}

type rejectingStore struct{ backing.Store }

func (rejectingStore) Append(context.Context, chat.Message) (chat.Message, error) {
	return chat.Message{}, errors.New("write refused")
}

func TestSendMarksFailedOnWriteError(t *testing.T) {
	threads := thread.NewStore()
	client := backing.NewClient(rejectingStore{Store: backing.NewMemoryStore()}, backing.NewMemoryFeed())
	composer := outbound.NewComposer(client, threads, senderID, time.Second)

	provisional, err := composer.Send(context.Background(), "c1", "doomed")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, func() bool {
		got, ok := threads.Get("c1", provisional.ID)
		return ok && got.Delivery == chat.DeliveryFailed
	}, "rejected write never transitioned to failed")
}

func TestRetryReissuesFailedEntry(t *testing.T) {
	threads := thread.NewStore()
	client := backing.NewClient(rejectingStore{Store: backing.NewMemoryStore()}, backing.NewMemoryFeed())
	composer := outbound.NewComposer(client, threads, senderID, time.Second)

	provisional, err := composer.Send(context.Background(), "c1", "try me")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool {
		got, _ := threads.Get("c1", provisional.ID)
		return got.Delivery == chat.DeliveryFailed
	}, "send never failed")

	retried, err := composer.Retry(context.Background(), "c1", provisional.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.ID == provisional.ID {
		t.Fatal("retry must use a new provisional identity")
	}
	if retried.Body != "try me" {
		t.Fatalf("retry body = %q, want original body", retried.Body)
	}

	// The old failed entry stays put.
	if _, ok := threads.Get("c1", provisional.ID); !ok {
		t.Fatal("original failed entry disappeared on retry")
	}
}

func TestRetryRequiresFailedState(t *testing.T) {
	threads := thread.NewStore()
	client := backing.NewClient(backing.NewMemoryStore(), backing.NewMemoryFeed())
	composer := outbound.NewComposer(client, threads, senderID, time.Minute)

	provisional, err := composer.Send(context.Background(), "c1", "in flight")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// Still pending: not retryable.
	if _, err := composer.Retry(context.Background(), "c1", provisional.ID); !errors.Is(err, outbound.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable for pending entry, got %v", err)
	}
	if _, err := composer.Retry(context.Background(), "c1", "no-such-id"); !errors.Is(err, outbound.ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable for unknown entry, got %v", err)
	}
}
