package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chatHandler "github.com/unipath/unipath/realtime/internal/handler/chat"
	streamHandler "github.com/unipath/unipath/realtime/internal/handler/stream"
	wsHandler "github.com/unipath/unipath/realtime/internal/handler/ws"
	middlewarePkg "github.com/unipath/unipath/realtime/internal/middleware"
	"github.com/unipath/unipath/realtime/internal/telemetry"
	"github.com/unipath/unipath/realtime/pkg/utils"
)

// NewRouter wires HTTP routes to the synchronization engine.
func NewRouter(chatH *chatHandler.Handler, streamH *streamHandler.Handler, wsH *wsHandler.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		chatH.RegisterRoutes(api)
		wsH.RegisterRoutes(api)

		api.Get("/assist/{conversationID}", func(w http.ResponseWriter, r *http.Request) {
			conversationID := chi.URLParam(r, "conversationID")
			userMessage := r.URL.Query().Get("message")

			if userMessage == "" {
				utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
				return
			}

			if err := streamH.HandleStreamRequest(r.Context(), w, conversationID, userMessage); err != nil {
				log.Printf("[assist] error handling request: %v", err)
				utils.RespondError(w, http.StatusInternalServerError, "streaming failed")
			}
		})
	})

	r.Handle("/metrics", telemetry.Handler())

	return r
}
