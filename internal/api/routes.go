package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/sync", h.TriggerSync)
			r.Get("/conflicts", h.ListConflicts)
			r.Get("/preferences", h.GetPreferences)
			r.Put("/preferences", h.PutPreferences)
			r.Get("/runs", h.ListRuns)
			r.Post("/conflicts/{conflictID}/resolve", h.ResolveConflict)
		})
	})

	return r
}
