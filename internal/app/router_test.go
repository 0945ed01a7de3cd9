package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/branch-ledger/internal/ledger"
	"github.com/odyssey-erp/branch-ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/branch-ledger/internal/observability"
	"github.com/odyssey-erp/branch-ledger/internal/platform/httpx"
	_ "github.com/odyssey-erp/branch-ledger/internal/testing/guard"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, db Pinger) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	l := ledger.NewLedger(ledgertest.NewMemory(), nil, ledger.Options{Observer: metrics, Logger: logger})
	router := NewRouter(RouterParams{
		Logger:        logger,
		Config:        &Config{AppEnv: "test", RateLimit: 1000},
		Metrics:       metrics,
		DB:            db,
		LedgerHandler: ledger.NewHandler(logger, l),
	})
	return router, metrics
}

func TestRouterServesStockUnderAPIPrefix(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/in",
		strings.NewReader(`{"key":{"product_id":3,"branch_id":1},"quantity":12}`))
	req.Header.Set(httpx.HeaderUserID, "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stock/quantity?product_id=3&branch_id=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"quantity":12`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `branch_ledger_stock_movements_total{reason="manual"} 1`)
	require.Contains(t, rec.Body.String(), `route="/api/v1/stock/in"`)
}

func TestRouterCorrectionNeedsCapability(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	body := `{"key":{"product_id":3,"branch_id":1},"delta":-2}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/adjust", strings.NewReader(body))
	req.Header.Set(httpx.HeaderUserID, "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/stock/adjust", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouterHealthAndFallbacks(t *testing.T) {
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	router, _ := newTestRouter(t, down)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestInTestModeUnderGuard(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{PGDSN: "postgres://x", RateLimit: 10, LowStockThreshold: -1}
	require.Error(t, cfg.validate())
	cfg.LowStockThreshold = 5
	require.NoError(t, cfg.validate())
	require.False(t, cfg.IsProduction())
}
