package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-sorter/internal/web/handlers"
)

func (s *Server) setupRoutes(progress *handlers.ProgressHandler, stats *handlers.StatsHandler) {
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/progress", progress.Get)
		r.Get("/progress/events", progress.Events)
		r.Get("/stats", stats.Get)
		r.Get("/persons", stats.Persons)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
}
