package presence

import (
	"testing"
	"time"

	"github.com/unipath/unipath/realtime/internal/model/chat"
)

func newTestTracker() (*Tracker, *time.Time) {
	tracker := NewTracker(4*time.Second, 30*time.Second)
	now := time.Now()
	tracker.SetClock(func() time.Time { return now })
	return tracker, &now
}

func TestTypingLapsesWithoutRefresh(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Apply(chat.PresenceSignal{UserID: "advisor", Kind: chat.PresenceTypingStart, At: *now})
	if got := tracker.Typing(); len(got) != 1 || got[0] != "advisor" {
		t.Fatalf("typing = %v, want [advisor]", got)
	}

	// No stop signal ever arrives; the flag lapses on its own.
	*now = now.Add(5 * time.Second)
	if got := tracker.Typing(); len(got) != 0 {
		t.Fatalf("typing after expiry = %v, want empty", got)
	}
}

func TestTypingRefreshExtendsWindow(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Apply(chat.PresenceSignal{UserID: "advisor", Kind: chat.PresenceTypingStart, At: *now})
	*now = now.Add(3 * time.Second)
	tracker.Apply(chat.PresenceSignal{UserID: "advisor", Kind: chat.PresenceTypingStart, At: *now})
	*now = now.Add(3 * time.Second)

	if got := tracker.Typing(); len(got) != 1 {
		t.Fatalf("refreshed typing flag should still hold, got %v", got)
	}
}

func TestExplicitStopClearsImmediately(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Apply(chat.PresenceSignal{UserID: "advisor", Kind: chat.PresenceTypingStart, At: *now})
	tracker.Apply(chat.PresenceSignal{UserID: "advisor", Kind: chat.PresenceTypingStop, At: *now})

	if got := tracker.Typing(); len(got) != 0 {
		t.Fatalf("typing after stop = %v, want empty", got)
	}
}

func TestExplicitExpiryFromSignalWins(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Apply(chat.PresenceSignal{
		UserID:    "advisor",
		Kind:      chat.PresenceTypingStart,
		At:        *now,
		ExpiresAt: now.Add(2 * time.Second),
	})

	*now = now.Add(3 * time.Second)
	if got := tracker.Typing(); len(got) != 0 {
		t.Fatalf("typing should honor the signal's own deadline, got %v", got)
	}
}

func TestOnlineDerivedFromHeartbeats(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Apply(chat.PresenceSignal{UserID: "advisor", Kind: chat.PresenceHeartbeat, At: *now})
	if !tracker.Online("advisor") {
		t.Fatal("advisor should be online right after a heartbeat")
	}
	if tracker.Online("stranger") {
		t.Fatal("unknown user must read as offline")
	}

	*now = now.Add(31 * time.Second)
	if tracker.Online("advisor") {
		t.Fatal("silence past the window means offline")
	}
	if got := tracker.OnlineUsers(); len(got) != 0 {
		t.Fatalf("online users = %v, want empty", got)
	}
}

func TestTypingListIsSorted(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Apply(chat.PresenceSignal{UserID: "zoe", Kind: chat.PresenceTypingStart, At: *now})
	tracker.Apply(chat.PresenceSignal{UserID: "amir", Kind: chat.PresenceTypingStart, At: *now})

	got := tracker.Typing()
	if len(got) != 2 || got[0] != "amir" || got[1] != "zoe" {
		t.Fatalf("typing = %v, want [amir zoe]", got)
	}
}
