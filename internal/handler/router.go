package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	sessionHandler "github.com/rudnitski/HealthUp-sub005/internal/handler/session"
	streamHandler "github.com/rudnitski/HealthUp-sub005/internal/handler/stream"
	middlewarePkg "github.com/rudnitski/HealthUp-sub005/internal/middleware"
	agentService "github.com/rudnitski/HealthUp-sub005/internal/service/agent"
	sessionService "github.com/rudnitski/HealthUp-sub005/internal/service/session"
	"github.com/rudnitski/HealthUp-sub005/pkg/utils"

	"github.com/rudnitski/HealthUp-sub005/internal/config"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(guard *sessionService.Service, agentSvc *agentService.Service, cfg config.AgentConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessions := sessionHandler.New(guard, agentSvc, cfg)
	sse := streamHandler.New(guard)
	ws := streamHandler.NewWebSocketHandler(guard)

	r.Route("/api", func(api chi.Router) {
		sessions.RegisterRoutes(api)
		sse.RegisterRoutes(api)
		ws.RegisterRoutes(api)

		api.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	})

	return r
}
