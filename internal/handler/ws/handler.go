package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/unipath/unipath/realtime/internal/service/syncer"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	snapshotPeriod = time.Second
)

// Handler pushes projection snapshots to a connected dashboard over a
// websocket. The socket is read-only for the client: state mutation goes
// through the REST surface, never through this channel.
type Handler struct {
	sync     *syncer.Synchronizer
	upgrader websocket.Upgrader
}

// New creates the projection push handler.
func New(sync *syncer.Synchronizer) *Handler {
	return &Handler{
		sync: sync,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			// Drain client frames to notice the close handshake; inbound
			// payloads are ignored by design.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(snapshotPeriod)
	defer ticker.Stop()
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	writeSnapshot := func() bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.sync.Projection(conversationID)); err != nil {
			log.Printf("[ws] write failed for %s: %v", conversationID, err)
			return false
		}
		return true
	}

	if !writeSnapshot() {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !writeSnapshot() {
				return
			}
		case <-pinger.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
