package chat

// Conversation is the list-rendering summary of a thread. Latest always
// points at the maximum-timestamp message currently known for the thread.
type Conversation struct {
	ID     string   `json:"id"`
	Latest *Message `json:"latest,omitempty"`
	Unread int      `json:"unread"`
}
