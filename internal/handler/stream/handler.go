package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"

	"github.com/unipath/unipath/realtime/internal/backing"
	"github.com/unipath/unipath/realtime/internal/model/chat"
	"github.com/unipath/unipath/realtime/internal/service/assistant"
	"github.com/unipath/unipath/realtime/internal/service/thread"
	"github.com/unipath/unipath/realtime/pkg/utils"
)

const assistantSenderID = "assistant"

// Handler streams assistant replies over Server-Sent Events. Whatever
// happens upstream, the client always receives a terminal frame: a finished
// answer or a locally generated fallback.
type Handler struct {
	client       *assistant.Client
	backingCli   *backing.Client
	threads      *thread.Store
	viewerID     string
	historyLimit int
}

// New creates the assistant stream handler.
func New(client *assistant.Client, backingCli *backing.Client, threads *thread.Store, viewerID string, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Handler{
		client:       client,
		backingCli:   backingCli,
		threads:      threads,
		viewerID:     viewerID,
		historyLimit: historyLimit,
	}
}

// StreamResponse is one SSE frame on the assistant channel.
type StreamResponse struct {
	Event          string `json:"event"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	State          string `json:"state,omitempty"`
	Fallback       bool   `json:"fallback,omitempty"`
	Finished       bool   `json:"finished,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HandleStreamRequest runs one assistant turn for a conversation.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, conversationID, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	utils.SetupSSEHeaders(w)

	messages := h.threads.Messages(conversationID)

	// The client may have already dispatched the question through the send
	// endpoint; avoid persisting it twice.
	if !hasMatchingUserMessage(messages, userMessage) {
		userMsg := chat.Message{
			ConversationID: conversationID,
			SenderID:       h.viewerID,
			Body:           userMessage,
		}
		if _, err := h.backingCli.Append(ctx, userMsg); err != nil {
			log.Printf("[assist] failed to save user message: %v", err)
		} else {
			messages = append(messages, userMsg)
		}
	}

	h.sendSSE(w, flusher, StreamResponse{Event: "start", ConversationID: conversationID})

	asm := assistant.NewAssembler()
	fallback := func() string { return assistant.FallbackReply(userMessage, messages) }
	history := assistant.HistoryMessages(messages, h.historyLimit)

	turn := h.runTurn(ctx, w, flusher, conversationID, history, asm, fallback)

	if turn.State == chat.TurnErroredWithFallback {
		h.sendSSE(w, flusher, StreamResponse{
			Event:          "message",
			ConversationID: conversationID,
			Content:        turn.Text,
			Fallback:       true,
		})
	}

	// The reply enters the conversation through the same write path as any
	// other message, so subscribers see it as a normal insert.
	reply := chat.Message{
		ConversationID: conversationID,
		SenderID:       assistantSenderID,
		Body:           turn.Text,
	}
	if _, err := h.backingCli.Append(ctx, reply); err != nil {
		log.Printf("[assist] failed to save assistant message: %v", err)
	}

	h.sendSSE(w, flusher, StreamResponse{
		Event:          "end",
		ConversationID: conversationID,
		State:          string(turn.State),
		Finished:       true,
	})

	log.Printf("[assist] completed turn for conversation=%s state=%s", conversationID, turn.State)
	return nil
}

// runTurn drives one assistant exchange to a terminal state. The upstream
// being unconfigured, failing to open, or dying mid-stream all resolve
// through the local fallback rather than leaving the turn streaming.
func (h *Handler) runTurn(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conversationID string, history []*schema.Message, asm *assistant.Assembler, fallback func() string) chat.AssistantTurn {
	if !h.client.Enabled() {
		return asm.Fail(fallback())
	}

	if h.client.StreamingEnabled() {
		sr, err := h.client.Stream(ctx, history)
		if err != nil {
			log.Printf("[assist] failed to open stream: %v", err)
			return asm.Fail(fallback())
		}
		return assistant.Consume(sr, asm, fallback, func(delta string) {
			h.sendSSE(w, flusher, StreamResponse{
				Event:          "delta",
				ConversationID: conversationID,
				Content:        delta,
			})
		})
	}

	reply, err := h.client.Complete(ctx, history)
	if err != nil {
		log.Printf("[assist] completion failed: %v", err)
		return asm.Fail(fallback())
	}
	asm.Push(reply.Content)
	turn := asm.Complete()
	h.sendSSE(w, flusher, StreamResponse{
		Event:          "message",
		ConversationID: conversationID,
		Content:        turn.Text,
	})
	return turn
}

func hasMatchingUserMessage(messages []chat.Message, content string) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.SenderID != assistantSenderID && last.Body == content
}

func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}
