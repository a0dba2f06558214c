package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ft-pong/pong-backend/internal/matchmaking"
	"github.com/ft-pong/pong-backend/internal/ws"
)

// SetupRoutes builds the router with the session registry and queue injected.
func SetupRoutes(h *Handlers, q *matchmaking.Queue, auth Authenticator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return requireAuth(auth, next) })

		r.Post("/matches", h.CreateMatch)
		r.Get("/matches/{id}/result", h.GetMatchResult)
		r.Post("/tournaments", h.CreateTournament)
		r.Get("/tournaments/{id}", h.GetTournament)

		r.Get("/ws/matchmaking", ws.MatchmakingHandler(q, logger))
		r.Get("/ws/game", ws.GameHandler(h.Registry, logger))
	})

	return r
}
