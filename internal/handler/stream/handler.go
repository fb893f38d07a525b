package stream

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
	"github.com/rudnitski/HealthUp-sub005/pkg/utils"
)

// Handler serves the per-session event stream over Server-Sent Events.
type Handler struct {
	guard *sessionService.Service
}

// New creates the stream handler.
func New(guard *sessionService.Service) *Handler {
	return &Handler{guard: guard}
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, detach, err := h.guard.Subscribe(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	defer detach()

	utils.SetupSSEHeaders(w)
	flusher.Flush()

	log.Debug().Str("session", sessionID).Msg("sse stream opened")
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("session", sessionID).Msg("sse stream closed by client")
			return
		case ev, open := <-events:
			if !open {
				// session torn down or subscriber replaced
				return
			}
			utils.SendSSEChunk(w, flusher, ev)
		}
	}
}
