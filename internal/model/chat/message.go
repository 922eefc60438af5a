package chat

import "time"

// DeliveryState tracks an outbound message between optimistic render and
// backend acknowledgment.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// Message is a single entry in a conversation log. ID is server-assigned once
// the write is acknowledged; before that the entry carries a provisional
// client-side id. ClientRef echoes the provisional id on the acknowledged
// record so the two can be reconciled.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Body           string        `json:"body"`
	CreatedAt      time.Time     `json:"createdAt"`
	Delivery       DeliveryState `json:"delivery,omitempty"`
	ClientRef      string        `json:"clientRef,omitempty"`
}
