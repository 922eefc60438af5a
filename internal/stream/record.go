package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/model/event"
)

var errUnknownRecord = errors.New("unknown record kind")

// envelope is the change-notification record shape delivered by the hosted
// feed. Records are loosely typed on the wire and validated here before
// anything downstream sees them.
type envelope struct {
	Kind     string               `json:"kind"`
	Message  *chat.Message        `json:"message,omitempty"`
	Presence *chat.PresenceSignal `json:"presence,omitempty"`
}

// EncodeRecord serializes an event for the feed transport.
func EncodeRecord(ev event.Event) ([]byte, error) {
	env := envelope{Kind: string(ev.Kind), Message: ev.Message, Presence: ev.Presence}
	return json.Marshal(env)
}

// DecodeRecord validates a raw feed record into a typed event. Callers are
// expected to log and skip records that fail validation rather than let
// untyped data reach the stores.
func DecodeRecord(data []byte) (event.Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return event.Event{}, fmt.Errorf("malformed record: %w", err)
	}

	switch event.Kind(env.Kind) {
	case event.MessageInserted, event.MessageUpdated:
		if env.Message == nil {
			return event.Event{}, fmt.Errorf("%s record missing message", env.Kind)
		}
		m := env.Message
		if m.ID == "" || m.ConversationID == "" || m.CreatedAt.IsZero() {
			return event.Event{}, fmt.Errorf("%s record failed validation: id=%q conversation=%q", env.Kind, m.ID, m.ConversationID)
		}
		return event.Event{Kind: event.Kind(env.Kind), Message: m}, nil
	case event.PresenceChanged:
		if env.Presence == nil || env.Presence.UserID == "" || env.Presence.Kind == "" {
			return event.Event{}, fmt.Errorf("presence record failed validation")
		}
		return event.Event{Kind: event.PresenceChanged, Presence: env.Presence}, nil
	default:
		return event.Event{}, fmt.Errorf("%w: %q", errUnknownRecord, env.Kind)
	}
}
