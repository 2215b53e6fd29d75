/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP routers (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTERS:
  NewRouter        the trip store API (what `freightsync serve` runs)
  NewEngineRouter  the engine API (what `freightsync watch` runs)

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/trips/*          Trip store
  /api/scenarios/*      Demo scenarios
  /engine/*             Engine operations
  /health               Liveness
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Store handler implementations
  - engine_handlers.go: Engine handler implementations
  - cmd/freightsync: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates the store API router.
func NewRouter(h *Handler) *chi.Mux {
	r := baseRouter()

	r.Route("/api", func(r chi.Router) {
		// Trip routes
		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.ListTrips)
			r.Post("/", h.CreateTrip)
			r.Get("/{id}", h.GetTrip)
			r.Patch("/{id}", h.PatchTrip)
			r.Patch("/{id}/payment-status", h.PatchPaymentStatus)
			r.Patch("/{id}/status", h.PatchStatus)
			r.Post("/{id}/documents", h.AddDocument)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// NewEngineRouter creates the engine API router.
func NewEngineRouter(h *EngineHandler) *chi.Mux {
	r := baseRouter()

	r.Route("/engine", func(r chi.Router) {
		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.ListTrips)
			r.Post("/", h.CreateTrip)
			r.Get("/{id}", h.GetTrip)
			r.Post("/{id}/payments", h.UpdatePayment)
			r.Put("/{id}/status", h.SetStatus)
			r.Post("/{id}/pod", h.UploadPOD)
			r.Post("/{id}/confirm-amount", h.ConfirmAmount)
		})

		r.Get("/queues", h.GetQueues)
		r.Get("/queues/{queue}", h.GetQueue)

		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)
	})

	return r
}

func baseRouter() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
