package middleware

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casetrace_http_requests_total",
		Help: "Total HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casetrace_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	detectJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casetrace_detect_jobs_total",
		Help: "Detection jobs by outcome.",
	}, []string{"outcome"})

	detectJobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "casetrace_detect_jobs_running",
		Help: "Detection jobs currently running.",
	})
)

// ObserveDetectJob records one finished detection job.
func ObserveDetectJob(outcome string) {
	detectJobsTotal.WithLabelValues(outcome).Inc()
}

// DetectJobStarted marks a detection job as running.
func DetectJobStarted() { detectJobsRunning.Inc() }

// DetectJobDone marks a detection job as finished.
func DetectJobDone() { detectJobsRunning.Dec() }

// Metrics records request counts and latency per chi route pattern.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
			requestDuration.WithLabelValues(r.Method, routePattern(r)).Observe(v)
		}))
		next.ServeHTTP(wrapped, r)
		timer.ObserveDuration()

		requestsTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// routePattern uses the chi pattern so metrics don't explode on IDs.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
