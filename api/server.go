/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address for the rate limiter and logs
  3. Logger:     One zerolog line per request
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Secure:     Security headers, HTTPS redirect in production
  6. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/clients, /api/activities, /api/sites   Catalogue
  /api/contracts/*                            Contracts and due periods
  /api/billing/*                              Batch invoicing (rate limited)
  /api/invoices/*, /api/credit-notes/*        Ledger
  /api/indices/*                              Indexation
  /api/scenarios/*                            Demo scenarios
  /api/health                                 Liveness and database ping

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
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string

	// BillingRunsPerMinute limits POST /api/billing/run per client IP.
	BillingRunsPerMinute int

	// Production turns on the HTTPS redirect.
	Production bool
}

// DefaultRouterOptions are used for zero fields.
var DefaultRouterOptions = RouterOptions{
	AllowedOrigins:       []string{"http://localhost:5173", "http://localhost:8080"},
	BillingRunsPerMinute: 10,
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultRouterOptions.AllowedOrigins
	}
	if opts.BillingRunsPerMinute <= 0 {
		opts.BillingRunsPerMinute = DefaultRouterOptions.BillingRunsPerMinute
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        opts.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	}).Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Catalogue routes
		r.Get("/clients", h.ListClients)
		r.Post("/clients", h.CreateClient)
		r.Get("/activities", h.ListActivities)
		r.Post("/activities", h.CreateActivity)
		r.Get("/sites", h.ListSites)
		r.Post("/sites", h.CreateSite)

		// Contract routes
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", h.ListContracts)
			r.Post("/", h.CreateContract)
			r.Get("/{id}", h.GetContract)
			r.Delete("/{id}", h.DeleteContract)
			r.Get("/{id}/due", h.GetDuePeriods)
		})

		// Billing routes
		r.Route("/billing", func(r chi.Router) {
			r.With(httprate.LimitByIP(opts.BillingRunsPerMinute, time.Minute)).
				Post("/run", h.RunBilling)
			r.Get("/runs", h.ListBillingRuns)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/status", h.UpdateInvoiceStatus)
		})
		r.Route("/credit-notes", func(r chi.Router) {
			r.Post("/", h.CreateCreditNote)
			r.Get("/{id}", h.GetCreditNote)
		})

		// Indexation routes
		r.Route("/indices", func(r chi.Router) {
			r.Get("/", h.ListIndices)
			r.Post("/", h.CreateIndex)
			r.Get("/{id}/values", h.GetIndexValues)
			r.Post("/{id}/values", h.AddIndexValues)
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

// Health reports liveness and whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger echoes the request ID and logs one line per request once
// the response is written.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set(middleware.RequestIDHeader, middleware.GetReqID(r.Context()))
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				ev := logger.Info()
				if status >= http.StatusInternalServerError {
					ev = logger.Error()
				}
				ev.Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
