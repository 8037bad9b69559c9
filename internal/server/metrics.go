// metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// httpInflight is the number of requests currently being served,
	// partitioned by handler name.
	httpInflight *prometheus.GaugeVec

	// ingestedDocumentsTotal counts documents accepted through POST /api/documents.
	ingestedDocumentsTotal prometheus.Counter

	// rateLimitedTotal counts requests rejected with 429, partitioned by the
	// limit that tripped ("requests" or "documents").
	rateLimitedTotal *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default,
// which keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragvec",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragvec",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"method", labelHandler}),

		httpInflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ragvec",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Number of HTTP requests currently being served.",
		}, []string{labelHandler}),

		ingestedDocumentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragvec",
			Subsystem: "http",
			Name:      "ingested_documents_total",
			Help:      "Total number of documents accepted through POST /api/documents.",
		}),

		rateLimitedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragvec",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by a per-client rate limit, partitioned by limit.",
		}, []string{"limit"}),
	}
}

// instrument wraps next so every request is counted, timed and tracked as
// in flight under the given handler name.
func (m *serverMetrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight := m.httpInflight.WithLabelValues(handler)
		inflight.Inc()
		defer inflight.Dec()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
	})
}
