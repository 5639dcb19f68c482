/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the review frontend

ROUTE GROUPS:
  /api/health             Liveness and store check
  /api/operators          Operator summaries
  /api/kpi-template       KPI templates
  /api/performance/*      Performance records and scores
  /api/refresh/*          Synchronous refresh and run status
  /api/assignments        Assignment sheet upload

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

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

// NewRouter creates a new router with all routes configured. An empty
// allowedOrigins list allows every origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/operators", h.GetOperatorSummaries)
		r.Get("/kpi-template", h.GetKpiTemplate)

		r.Route("/performance", func(r chi.Router) {
			r.Get("/", h.GetPerformance)
			r.Post("/", h.UpdatePerformance)
			r.Get("/score", h.GetScore)
		})

		r.Route("/refresh", func(r chi.Router) {
			r.Post("/", h.RunRefresh)
			r.Get("/runs", h.ListRefreshRuns)
			r.Get("/runs/{id}", h.GetRefreshRun)
		})

		r.Post("/assignments", h.UploadAssignments)
	})

	return r
}
