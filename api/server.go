/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/state            Document read/replace
  /api/store/*          Per-store mutations
  /api/import           Bulk upsert (session required)
  /api/history/*        Audit events
  /api/cron/daily       External cron trigger (secret header)
  /api/run              Manual sweep
  /api/reset            Full reset
  /api/login|logout|me  Sessions
  /api/health           Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Base-Version", "X-Cron-Secret"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Document
		r.Get("/state", h.GetState)
		r.Put("/state", h.PutState)

		// Store mutations
		r.Route("/store", func(r chi.Router) {
			r.Post("/update", h.UpdateStore)
			r.Post("/remove", h.RemoveStore)
		})

		// Bulk import requires a session
		r.With(h.RequireAuth).Post("/import", h.Import)

		// History
		r.Get("/history", h.GetHistory)
		r.Post("/history/append", h.AppendHistory)

		// Sweep triggers
		r.Get("/cron/daily", h.CronDaily)
		r.Post("/cron/daily", h.CronDaily)
		r.Post("/run", h.RunNow)

		// Admin
		r.Post("/reset", h.Reset)

		// Auth
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)

		// Misc
		r.Get("/health", h.Health)
	})

	return r
}
