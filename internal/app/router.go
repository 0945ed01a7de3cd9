package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/branch-ledger/internal/catalog"
	"github.com/odyssey-erp/branch-ledger/internal/damage"
	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/observability"
	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/branch-ledger/internal/sales"
	"github.com/odyssey-erp/branch-ledger/internal/subscriptions"
	"github.com/odyssey-erp/branch-ledger/internal/transfers"
	"github.com/odyssey-erp/branch-ledger/jobs"
)

// Pinger reports backing service health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	DB      Pinger

	LedgerHandler       *ledger.Handler
	CatalogHandler      *catalog.Handler
	SalesHandler        *sales.Handler
	TransfersHandler    *transfers.Handler
	SubscriptionHandler *subscriptions.Handler
	DamageHandler       *damage.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router serving /api/v1.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" not allowed on "+r.URL.Path)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				params.Logger.Warn("readiness", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.LedgerHandler != nil {
			r.Route("/stock", params.LedgerHandler.MountRoutes)
		}
		if params.CatalogHandler != nil {
			r.Route("/products", params.CatalogHandler.MountRoutes)
		}
		if params.SalesHandler != nil {
			r.Route("/invoices", params.SalesHandler.MountRoutes)
		}
		if params.TransfersHandler != nil {
			r.Route("/transfers", params.TransfersHandler.MountRoutes)
		}
		if params.SubscriptionHandler != nil {
			r.Route("/subscriptions", params.SubscriptionHandler.MountRoutes)
		}
		if params.DamageHandler != nil {
			r.Route("/damage", params.DamageHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
