/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Tracing:    W3C trace context extraction (OpenTelemetry)
  4. Logger:     zap request log + Prometheus latency histogram
  5. CORS:       Cross-origin requests for the frontend
  6. Auth:       Bearer token -> auth.Identity (only under /api)

ROUTE GROUPS:
  /healthz              Liveness + store ping (no auth)
  /metrics              Prometheus scrape endpoint (no auth)
  /api/churches/*       Churches
  /api/funds/*          Funds and ledger views
  /api/transactions/*   Ledger rows
  /api/reports/*        Monthly reports and approval
  /api/ledgers/*        Monthly closing and accounting entries

SEE ALSO:
  - handlers.go, reports.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/church-treasury/auth"
	"github.com/warp/church-treasury/observability"
)

// RouterOptions carries the cross-cutting pieces the router needs.
type RouterOptions struct {
	Auth        auth.Provider
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(opts.Logger, opts.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(opts.Auth, opts.Logger))

		r.Route("/churches", func(r chi.Router) {
			r.Get("/", h.ListChurches)
			r.Post("/", h.CreateChurch)
		})

		r.Route("/funds", func(r chi.Router) {
			r.Get("/", h.ListFunds)
			r.Post("/", h.CreateFund)
			r.Get("/{id}", h.GetFund)
			r.Delete("/{id}", h.DeleteFund)
			r.Post("/{id}/deactivate", h.DeactivateFund)
			r.Post("/{id}/reconcile", h.ReconcileFund)
			r.Get("/{id}/ledger", h.FundLedger)
			r.Get("/{id}/ledger.xlsx", h.FundLedgerXLSX)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Post("/bulk", h.BulkCreateTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Put("/{id}", h.UpdateTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/", h.CreateReport)
			r.Post("/preview", h.PreviewReport)
			r.Get("/{id}", h.GetReport)
			r.Put("/{id}", h.EditReport)
			r.Delete("/{id}", h.DeleteReport)
			r.Post("/{id}/submit", h.SubmitReport)
			r.Post("/{id}/approve", h.ApproveReport)
			r.Post("/{id}/reject", h.RejectReport)
		})

		r.Route("/ledgers", func(r chi.Router) {
			r.Get("/", h.ListLedgers)
			r.Post("/", h.OpenLedger)
			r.Get("/entries", h.ListEntries)
			r.Post("/entries", h.AddEntry)
			r.Get("/{id}", h.GetLedger)
			r.Post("/{id}/close", h.CloseLedger)
			r.Post("/{id}/reconcile", h.ReconcileLedger)
		})
	})

	return r
}

// Authenticate resolves the caller with p and stores the identity in the
// request context. Requests without valid credentials get a 401.
func Authenticate(p auth.Provider, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := p.Authenticate(r)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					logger.Error("authentication failed", zap.Error(err))
				}
				writeError(w, http.StatusUnauthorized, ErrorResponse{Error: "No autenticado"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}
