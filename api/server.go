/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Identity:   Actor resolution (JWT or headers, see identity.go)

ROUTE GROUPS:
  /api/requests/*       Request lifecycle (submit, decide, cancel)
  /api/employees/*      Per-employee views (history, balance)
  /api/types            Leave type catalog
  /api/holidays         Company holidays
  /api/admin/*          Policy, rollover, allocations, type/holiday admin

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured. jwtSecret
// empty selects header-based identity for development.
func NewRouter(h *Handler, jwtSecret string, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role", "X-Employee-ID"},
			AllowCredentials: true,
		}))
	}
	r.Use(IdentityMiddleware(jwtSecret))

	r.Route("/api", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/pending", h.ListPendingRequests)
			r.Get("/{id}", h.GetRequest)
			r.Post("/{id}/decision", h.DecideRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/{id}/requests", h.ListEmployeeRequests)
			r.Get("/{id}/balance", h.GetBalance)
		})

		r.Get("/types", h.ListLeaveTypes)
		r.Get("/holidays", h.ListHolidays)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/policy", h.GetPolicy)
			r.Put("/policy", h.UpdatePolicy)
			r.Post("/rollover", h.TriggerRollover)
			r.Post("/allocations", h.CreateAllocation)
			r.Post("/types", h.SaveLeaveType)
			r.Post("/holidays", h.CreateHoliday)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
