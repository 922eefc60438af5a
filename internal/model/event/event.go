package event

import "github.com/unipath/unipath/realtime/internal/model/chat"

// Kind identifies a decoded stream event.
type Kind string

const (
	MessageInserted Kind = "message.inserted"
	MessageUpdated  Kind = "message.updated"
	PresenceChanged Kind = "presence.changed"
	ResponseDelta   Kind = "response.delta"
	ResponseDone    Kind = "response.done"
	ResponseError   Kind = "response.error"
	ConnectionLost  Kind = "connection.lost"
)

// Event is the typed envelope produced at the stream-reader boundary. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind     Kind
	Message  *chat.Message
	Presence *chat.PresenceSignal
	Delta    string
	Reason   string
}
