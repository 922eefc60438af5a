package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unipath/unipath/realtime/internal/service/outbound"
	"github.com/unipath/unipath/realtime/internal/service/presence"
	"github.com/unipath/unipath/realtime/internal/service/syncer"
	"github.com/unipath/unipath/realtime/pkg/utils"
)

// Handler exposes the conversation engine over HTTP: selection, projection
// reads, sends, retries, read receipts and typing signals.
type Handler struct {
	sync     *syncer.Synchronizer
	composer *outbound.Composer
	emitter  *presence.Emitter
}

// New creates the chat handler.
func New(sync *syncer.Synchronizer, composer *outbound.Composer, emitter *presence.Emitter) *Handler {
	return &Handler{sync: sync, composer: composer, emitter: emitter}
}

// RegisterRoutes mounts the conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.handleList)
	r.Post("/conversations/{conversationID}/select", h.handleSelect)
	r.Delete("/conversations/{conversationID}/select", h.handleDeselect)
	r.Get("/conversations/{conversationID}", h.handleProjection)
	r.Post("/conversations/{conversationID}/messages", h.handleSend)
	r.Post("/conversations/{conversationID}/messages/{messageID}/retry", h.handleRetry)
	r.Post("/conversations/{conversationID}/read", h.handleMarkRead)
	r.Post("/conversations/{conversationID}/typing", h.handleTyping)
	r.Post("/conversations/{conversationID}/heartbeat", h.handleHeartbeat)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sync.Summaries())
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var payload struct {
		Viewing bool `json:"viewing"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload) // body is optional
	}

	if err := h.sync.Select(r.Context(), conversationID); err != nil {
		if errors.Is(err, syncer.ErrSelectionSuperseded) {
			utils.RespondError(w, http.StatusConflict, err.Error())
			return
		}
		// History or subscribe failure is retryable; the client may simply
		// re-select.
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.sync.SetViewing(conversationID, payload.Viewing)

	utils.RespondJSON(w, http.StatusOK, h.sync.Projection(conversationID))
}

func (h *Handler) handleDeselect(w http.ResponseWriter, r *http.Request) {
	h.sync.Deselect()
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (h *Handler) handleProjection(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	utils.RespondJSON(w, http.StatusOK, h.sync.Projection(conversationID))
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.composer.Send(r.Context(), conversationID, payload.Body)
	if err != nil {
		if errors.Is(err, outbound.ErrEmptyBody) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.composer.Retry(r.Context(), conversationID, messageID)
	if err != nil {
		if errors.Is(err, outbound.ErrNotRetryable) {
			utils.RespondError(w, http.StatusConflict, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, msg)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if err := h.sync.MarkRead(r.Context(), conversationID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, h.sync.Projection(conversationID))
}

func (h *Handler) handleTyping(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var payload struct {
		Typing bool `json:"typing"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var err error
	if payload.Typing {
		err = h.emitter.StartTyping(r.Context(), conversationID)
	} else {
		err = h.emitter.StopTyping(r.Context(), conversationID)
	}
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if err := h.emitter.Heartbeat(r.Context(), conversationID); err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}
