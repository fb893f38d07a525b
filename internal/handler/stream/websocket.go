package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
	"github.com/rudnitski/HealthUp-sub005/pkg/utils"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves the same event stream as the SSE endpoint over a
// websocket, one JSON event per text frame.
type WebSocketHandler struct {
	guard    *sessionService.Service
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates the websocket stream handler.
func NewWebSocketHandler(guard *sessionService.Service) *WebSocketHandler {
	return &WebSocketHandler{
		guard: guard,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/ws", h.handleWebSocket)
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	events, detach, err := h.guard.Subscribe(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		detach()
		log.Warn().Err(err).Str("session", sessionID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	defer detach()

	log.Debug().Str("session", sessionID).Msg("websocket stream opened")

	// Reader goroutine only detects disconnect; the stream is one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			log.Debug().Str("session", sessionID).Msg("websocket closed by client")
			return
		case ev, open := <-events:
			if !open {
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				log.Warn().Err(err).Str("session", sessionID).Msg("websocket write failed")
				return
			}
		}
	}
}
