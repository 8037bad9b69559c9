package search

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// Metrics holds the Prometheus metrics owned by the query pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// queriesTotal counts searches by outcome (ok, invalid, embedding, store, error).
	queriesTotal *prometheus.CounterVec

	// durationSeconds records end-to-end search latency.
	durationSeconds prometheus.Histogram
}

// NewMetrics registers the search metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragvec",
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Search queries, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragvec",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end latency of search queries (embed + store query).",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) observe(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.durationSeconds.Observe(d.Seconds())
	m.queriesTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rag.ErrEmbedding):
		return "embedding"
	case errors.Is(err, rag.ErrStore):
		return "store"
	case errors.Is(err, rag.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}
