// Package metrics provides Prometheus instrumentation for the bidding engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bids, partitioned by outcome (accepted, rejected).
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotbid_bids_total",
		Help: "Total number of bids processed",
	}, []string{"outcome"})

	// BidLatency tracks bid execution latency.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slotbid_bid_latency_seconds",
		Help:    "Bid execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SlotsCreated counts slot creation/extension operations.
	SlotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotbid_slots_created_total",
		Help: "Total slot creation and extension operations",
	})

	// WinnerDraws counts winner declarations.
	WinnerDraws = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotbid_winner_draws_total",
		Help: "Total winner declarations",
	})

	// LimitRejections counts bids rejected by the investment limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotbid_limit_rejections_total",
		Help: "Bids rejected by the investment limiter",
	})

	// SaveConflicts counts optimistic save conflicts (lost races).
	SaveConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slotbid_save_conflicts_total",
		Help: "Product saves rejected by the optimistic version check",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slotbid_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slotbid_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slotbid_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
