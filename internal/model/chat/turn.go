package chat

// TurnState is the lifecycle of one assistant reply.
type TurnState string

const (
	TurnStreaming           TurnState = "streaming"
	TurnComplete            TurnState = "complete"
	TurnErroredWithFallback TurnState = "errored_with_fallback"
)

// Role labels one side of an assistant exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AssistantTurn accumulates a streamed reply. Text only grows while the turn
// is streaming; once the turn reaches a terminal state it is frozen.
type AssistantTurn struct {
	Role  Role      `json:"role"`
	Text  string    `json:"text"`
	State TurnState `json:"state"`
}

// Terminal reports whether no further transition can occur for this turn.
func (t AssistantTurn) Terminal() bool {
	return t.State == TurnComplete || t.State == TurnErroredWithFallback
}
