package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the HTTP router.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	// Deletes allow a burst of 100, then 10 per second sustained
	deleteRateLimiter := NewDeleteRateLimiter(100, 100*time.Millisecond)

	r.Route("/api/v1", func(r chi.Router) {
		// Health stays open for process supervisors
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Post("/memories", h.RememberMemory)
			r.Get("/memories/search", h.SearchMemories)
			r.Get("/memories/{id}", h.GetMemory)
			r.With(deleteRateLimiter.Middleware).Delete("/memories/{id}", h.DeleteMemory)

			r.Post("/capture", h.Capture)
			r.Post("/pages", h.SavePage)

			r.Get("/collections/{collection}/count", h.Count)
			r.Post("/collections/{collection}/query", h.QueryCollection)

			r.Post("/fixes/attempts", h.FixAttempt)
			r.Post("/fixes/outcomes", h.FixOutcome)
			r.Get("/fixes/history", h.FixHistory)

			r.Post("/admin/flush", h.Flush)
			r.Post("/admin/backup", h.Backup)
			r.Post("/admin/maintenance", h.Maintenance)
		})
	})

	return r
}
