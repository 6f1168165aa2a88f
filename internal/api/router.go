package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/inkstone-ai/inkstone/internal/api/handlers"
	"github.com/inkstone-ai/inkstone/internal/api/middleware"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Requests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", h.Health)
	r.Get("/version", h.GetVersion)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Post("/analyze", h.Analyze)
		r.Post("/query", h.Query)
		r.Post("/embed", h.Embed)

		r.Route("/models", func(r chi.Router) {
			r.Get("/", h.ListModels)
			// Descriptor IDs are "provider/model", so the installer hook
			// takes both segments.
			r.Post("/{provider}/{model}/status", h.SetModelStatus)
		})

		r.Route("/traces", func(r chi.Router) {
			r.Get("/", h.ListTraces)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
		})
	})

	return r
}
