// Package metrics declares the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mypy_play"

// Run outcomes recorded in RunsTotal.
const (
	OutcomeOK          = "ok"
	OutcomeUnknown     = "unknown_version"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
)

var (
	// HTTP metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Counter of HTTP requests.",
		},
		[]string{"handler", "method", "code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of latencies for HTTP requests.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3, 8, 20, 60},
		},
		[]string{"handler", "method"},
	)

	ResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of response size for HTTP requests.",
			Buckets:   []float64{10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000},
		},
		[]string{"handler", "method"},
	)

	// Sandbox metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Total number of sandbox runs by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of completed sandbox runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"backend"},
	)

	InFlightRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "inflight_runs",
			Help:      "Number of sandbox runs currently holding a concurrency slot.",
		},
	)
)

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware records request count, latency and response size under the
// given handler label.
func Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		RequestDuration.WithLabelValues(handler, r.Method).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(handler, r.Method, strconv.Itoa(status)).Inc()
		if rec.size > 0 {
			ResponseSize.WithLabelValues(handler, r.Method).Observe(float64(rec.size))
		}
	})
}
