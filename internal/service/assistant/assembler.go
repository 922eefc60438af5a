package assistant

import (
	"errors"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/telemetry"
)

// Assembler accumulates one assistant turn from streamed deltas. Text grows
// monotonically while streaming; once the turn reaches a terminal state it
// is frozen and further pushes are rejected. Deltas are appended verbatim in
// arrival order: in-order, exactly-once delivery within a connection is the
// upstream transport's contract, not something to paper over here.
type Assembler struct {
	mu   sync.Mutex
	turn chat.AssistantTurn
}

// NewAssembler starts a streaming assistant turn.
func NewAssembler() *Assembler {
	return &Assembler{turn: chat.AssistantTurn{Role: chat.RoleAssistant, State: chat.TurnStreaming}}
}

// Push appends a delta. Returns false when the turn is already terminal.
func (a *Assembler) Push(delta string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.turn.Terminal() {
		return false
	}
	a.turn.Text += delta
	return true
}

// Complete freezes the turn on its terminal marker. Completing an already
// terminal turn is a no-op.
func (a *Assembler) Complete() chat.AssistantTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.turn.Terminal() {
		a.turn.State = chat.TurnComplete
	}
	return a.turn
}

// Fail resolves the turn with the locally generated fallback text. The
// accumulated partial text is replaced: the user sees one coherent answer,
// not a truncated stream with an apology stapled on.
func (a *Assembler) Fail(fallback string) chat.AssistantTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.turn.Terminal() {
		return a.turn
	}
	a.turn.State = chat.TurnErroredWithFallback
	a.turn.Text = fallback
	telemetry.AssistantFallbacks.Inc()
	return a.turn
}

// Snapshot returns the turn as currently accumulated.
func (a *Assembler) Snapshot() chat.AssistantTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turn
}

// Consume drains an assistant stream into the assembler. Every delta is
// forwarded to onDelta as it arrives. Any stream error, including
// cancellation of the underlying read loop, resolves the turn through the
// fallback so the caller always receives a terminal turn.
func Consume(sr *schema.StreamReader[*schema.Message], asm *Assembler, fallback func() string, onDelta func(string)) chat.AssistantTurn {
	defer sr.Close()

	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return asm.Complete()
		}
		if err != nil {
			return asm.Fail(fallback())
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		if asm.Push(chunk.Content) && onDelta != nil {
			onDelta(chunk.Content)
		}
	}
}
