package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the API process. It satisfies
// the observer ports of the ledger, transfers and subscriptions services.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	movements       *prometheus.CounterVec
	units           *prometheus.CounterVec
	negativeUnits   prometheus.Counter
	transitions     *prometheus.CounterVec
	redemptions     prometheus.Counter
	redeemedLines   prometheus.Counter
	redeemedUnits   prometheus.Counter
}

// NewMetrics builds a private registry with the HTTP and stock collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "branch_ledger_http_request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_stock_movements_total",
			Help: "Stock movements written, by reason.",
		}, []string{"reason"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_stock_units_total",
			Help: "Absolute units moved, by reason and direction.",
		}, []string{"reason", "direction"}),
		negativeUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branch_ledger_stock_deductions_total",
			Help: "Movements that took units off a line.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "branch_ledger_transfer_transitions_total",
			Help: "Committed transfer status changes.",
		}, []string{"from", "to"}),
		redemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branch_ledger_redemptions_total",
			Help: "Committed subscription redemptions.",
		}),
		redeemedLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branch_ledger_redeemed_lines_total",
			Help: "Lines across committed redemptions.",
		}),
		redeemedUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "branch_ledger_redeemed_units_total",
			Help: "Units handed out against subscriptions.",
		}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.movements, m.units, m.negativeUnits,
		m.transitions,
		m.redemptions, m.redeemedLines, m.redeemedUnits,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency for every request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveMovement counts one ledger movement.
func (m *Metrics) ObserveMovement(reason string, delta int64) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(reason).Inc()
	direction := "in"
	if delta < 0 {
		direction = "out"
		delta = -delta
		m.negativeUnits.Inc()
	}
	m.units.WithLabelValues(reason, direction).Add(float64(delta))
}

// ObserveTransition counts one transfer status change. An empty from marks
// creation.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveRedemption counts one committed redemption.
func (m *Metrics) ObserveRedemption(lines int, units int64) {
	if m == nil {
		return
	}
	m.redemptions.Inc()
	m.redeemedLines.Add(float64(lines))
	m.redeemedUnits.Add(float64(units))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
