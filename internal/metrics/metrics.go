// Package metrics provides Prometheus instrumentation for the position grid.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionEntries counts submitted entries by outcome.
	SubmissionEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posgrid_submission_entries_total",
		Help: "Submitted entries by coordinator, kind, asset type and status",
	}, []string{"coordinator", "kind", "asset_type", "status"})

	// SubmissionRuns counts finished submission runs by final state.
	SubmissionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posgrid_submission_runs_total",
		Help: "Finished submission runs by final state",
	}, []string{"coordinator", "state"})

	// SubmissionRunDuration tracks wall time of a submission run.
	SubmissionRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posgrid_submission_run_duration_seconds",
		Help:    "Submission run duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"coordinator"})

	// PasteLines counts pasted lines by outcome: draft, new_position or failed.
	PasteLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posgrid_paste_lines_total",
		Help: "Pasted lines by outcome",
	}, []string{"outcome"})

	// PendingEdits tracks the size of the draft and new-position overlays.
	PendingEdits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "posgrid_pending_edits",
		Help: "Number of pending edits by overlay",
	}, []string{"overlay"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posgrid_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// WebSocketDropped counts progress messages dropped on a full queue.
	WebSocketDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posgrid_websocket_dropped_total",
		Help: "Progress messages dropped because the broadcast queue was full",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posgrid_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "posgrid_http_request_duration_seconds",
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

		// Route pattern keeps label cardinality bounded.
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
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
