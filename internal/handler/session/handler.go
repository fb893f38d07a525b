package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/rudnitski/HealthUp-sub005/internal/config"
	"github.com/rudnitski/HealthUp-sub005/internal/model/chat"
	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
	"github.com/rudnitski/HealthUp-sub005/pkg/utils"
)

// TurnRunner runs the orchestration loop for one accepted message.
type TurnRunner interface {
	RunTurn(ctx context.Context, sessionID string) chat.Turn
}

// Handler exposes session lifecycle and message acceptance over HTTP.
type Handler struct {
	guard *sessionService.Service
	agent TurnRunner
	cfg   config.AgentConfig
}

// New creates the session handler.
func New(guard *sessionService.Service, agent TurnRunner, cfg config.AgentConfig) *Handler {
	return &Handler{guard: guard, agent: agent, cfg: cfg}
}

// RegisterRoutes mounts the session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Post("/sessions/{sessionID}/messages", h.handleSendMessage)
	r.Post("/sessions/{sessionID}/new", h.handleNewSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PatientID string `json:"patientId"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	session := h.guard.Create(r.Context(), strings.TrimSpace(payload.PatientID))
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": session.ID})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	// Claim the session before anything else: a busy session rejects the
	// message outright rather than queueing it.
	if err := h.guard.Begin(sessionID); err != nil {
		switch {
		case errors.Is(err, sessionService.ErrSessionBusy):
			utils.RespondError(w, http.StatusConflict, "session busy")
		case errors.Is(err, sessionService.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		default:
			utils.RespondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	userTurn, err := h.guard.AppendUserTurn(sessionID, text)
	if err != nil {
		h.guard.Finish(sessionID, chat.Turn{})
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	// The turn runs detached from the request context: the 202 returns
	// immediately and progress flows through the event stream.
	runCtx, cancel := context.WithCancel(context.Background())
	if h.cfg.AbortOnDisconnect {
		h.guard.BindDetach(sessionID, cancel)
	}

	go func() {
		defer cancel()
		turn := h.agent.RunTurn(runCtx, sessionID)
		h.guard.Finish(sessionID, turn)
	}()

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{
		"messageId": userTurn.MessageID,
		"status":    "accepted",
	})
}

func (h *Handler) handleNewSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.guard.Renew(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]string{"sessionId": session.ID})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.guard.Delete(sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	log.Debug().Str("session", sessionID).Msg("session closed by client")
	w.WriteHeader(http.StatusNoContent)
}
