/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address for the rate limiter
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Secure:     Security headers (HSTS/SSL redirect in production)
  6. CORS:       Cross-origin requests for the frontend
  7. httprate:   Per-IP request budget on /api

ROUTE GROUPS:
  /api/clients/*        Client administration, periods, collections
  /api/transactions/*   Billed period read/edit
  /api/reports/*        Receivables and fee increase reports
  /api/admin/*          Rollover
  /api/users/*          Operators
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

// RouterOptions tune the middleware stack.
type RouterOptions struct {
	CORSOrigins        []string
	RateLimitPerMinute int
	Production         bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !opts.Production,
	})

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.RateLimitPerMinute > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
		}

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Put("/{id}", h.UpdateClient)
			r.Post("/{id}/terminate", h.TerminateClient)
			r.Post("/{id}/reactivate", h.ReactivateClient)
			r.Put("/{id}/user", h.AssignClientUser)
			r.Get("/{id}/periods", h.ListPeriods)
			r.Get("/{id}/periods/preview", h.PreviewPeriod)
			r.Post("/{id}/periods", h.CreatePeriod)
			r.Post("/{id}/skip", h.SkipPeriod)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/collections", h.ListCollections)
			r.Put("/{id}/collections", h.UpdateCollections)
		})

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.EditTransaction)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/receivables", h.ReceivablesReport)
			r.Get("/collections", h.CollectionsReport)
			r.Get("/fee-increases", h.FeeIncreaseReport)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Get("/rollover", h.GetRolloverStatus)
			r.Post("/rollover", h.TriggerRollover)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Put("/", h.UpdateUsers)
			r.Delete("/{id}", h.DeleteUser)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
