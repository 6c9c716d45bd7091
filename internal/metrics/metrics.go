// Package metrics routes absorbed failures and ingest volume through
// Prometheus instead of leaving them as console-only noise.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReadingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readings_ingested_total",
			Help: "Readings persisted, by ingest source",
		},
		[]string{"source"},
	)

	PushRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_rejected_total",
			Help: "Push requests rejected before persisting anything",
		},
		[]string{"reason"},
	)

	PollFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_failures_total",
			Help: "Poll candidate attempts that failed and were absorbed",
		},
		[]string{"reason"},
	)

	PollExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_exhausted_total",
			Help: "Poll ticks where every candidate for a device failed",
		},
	)

	SimFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sim_failures_total",
			Help: "Farm evaluations the simulator absorbed as failed",
		},
	)

	ArchiveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_errors_total",
			Help: "Readings that could not be mirrored to the time-series archive",
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		ReadingsIngested,
		PushRejected,
		PollFailures,
		PollExhausted,
		SimFailures,
		ArchiveErrors,
		RequestsTotal,
		RequestDuration,
	)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency per method and route. The
// route label is the matched mux pattern, not the raw path, so wildcard
// routes stay one series instead of one per path value.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
