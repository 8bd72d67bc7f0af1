// Package metrics provides Prometheus instrumentation for the tax engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/atmx/capgain/internal/model"
)

// Simulation sources.
const (
	SourceBatch = "batch"
	SourceAPI   = "api"
)

var (
	// SimulationsTotal counts replayed simulations, partitioned by source.
	SimulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgain_simulations_total",
		Help: "Total number of simulations replayed",
	}, []string{"source"})

	// OperationsTotal counts replayed operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgain_operations_total",
		Help: "Total number of operations replayed",
	}, []string{"kind"})

	// TaxTotal accumulates emitted tax. Float is fine here: reporting only.
	TaxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capgain_tax_total",
		Help: "Sum of tax emitted across all simulations",
	})

	// SimulationDuration tracks how long a single simulation replay takes.
	SimulationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capgain_simulation_duration_seconds",
		Help:    "Simulation replay duration in seconds",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
	}, []string{"source"})

	// ValidationRejections counts simulations rejected in strict mode.
	ValidationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capgain_validation_rejections_total",
		Help: "Simulations rejected by strict validation",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capgain_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capgain_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capgain_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSimulation records one replayed simulation.
func ObserveSimulation(source string, ops []model.Operation, results []model.TaxResult, elapsed time.Duration) {
	SimulationsTotal.WithLabelValues(source).Inc()
	SimulationDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	for _, op := range ops {
		OperationsTotal.WithLabelValues(kindLabel(op.Kind)).Inc()
	}
	sum := decimal.Zero
	for _, r := range results {
		sum = sum.Add(r.Tax)
	}
	if sum.IsPositive() {
		TaxTotal.Add(sum.InexactFloat64())
	}
}

// kindLabel bounds label cardinality: unknown kinds share one label.
func kindLabel(k model.Kind) string {
	switch k {
	case model.KindBuy, model.KindSell:
		return string(k)
	default:
		return "other"
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps the path label low-cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
