/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontends

SECURITY NOTE:
  No authentication middleware. Callers are expected to sit behind an
  authenticating gateway.

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/topup", h.TopUp)
			r.Post("/bonus", h.IssueBonus)
			r.Post("/purchase", h.Purchase)
			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/assets", h.CreateAsset)
			r.Post("/accounts", h.CreateAccount)
			r.Post("/wallets", h.CreateWallet)
		})
	})

	return r
}
