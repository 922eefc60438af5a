package chat

import "time"

// PresenceKind labels a presence signal on the wire.
type PresenceKind string

const (
	PresenceTypingStart PresenceKind = "typing_start"
	PresenceTypingStop  PresenceKind = "typing_stop"
	PresenceHeartbeat   PresenceKind = "heartbeat"
)

// PresenceSignal is one heartbeat or typing transition for a user. A typing
// signal is authoritative only until ExpiresAt; silence past that reads as
// not typing.
type PresenceSignal struct {
	UserID    string       `json:"userId"`
	Kind      PresenceKind `json:"kind"`
	At        time.Time    `json:"at"`
	ExpiresAt time.Time    `json:"expiresAt,omitempty"`
}
