/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the driver and admin frontends
  5. Auth:       Bearer token on /api/*, admin role where marked

ROUTE GROUPS:
  /health                Liveness and database check (public)
  /ws                    Live event feed (token in query string)
  /api/requests/*        Driver requests
  /api/request-types/*   Request type registry
  /api/day-off/*         Day-off validation and capacity
  /api/scenarios/*       Demo data loaders (admin, opt-in)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.HealthCheck)
	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Auth.Middleware)

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SubmitRequest)
			r.Get("/{id}", h.GetRequest)
			r.With(RequireAdmin).Post("/{id}/respond", h.RespondToRequest)
		})

		r.Route("/request-types", func(r chi.Router) {
			r.Get("/", h.ListRequestTypes)
			r.With(RequireAdmin).Post("/", h.RegisterRequestType)
		})

		r.Route("/day-off", func(r chi.Router) {
			r.Get("/check", h.CheckDayOff)
			r.Get("/capacity", h.DayCapacity)
			r.With(RequireAdmin).Get("/calendar", h.CycleCalendar)
		})

		if h.DemoScenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/", h.ListScenarios)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
