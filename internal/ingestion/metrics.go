package ingestion

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Document outcome label values.
const (
	outcomeIngested = "ingested"
	outcomeSkipped  = "skipped"
	outcomeFailed   = "failed"
)

// Metrics holds the Prometheus metrics owned by the ingestion pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// documentsTotal counts processed documents by outcome.
	documentsTotal *prometheus.CounterVec

	// chunksTotal counts chunks written to the store.
	chunksTotal prometheus.Counter

	// embedDurationSeconds records the latency of each per-document embed call.
	embedDurationSeconds prometheus.Histogram

	// writeDurationSeconds records the latency of each per-document store write.
	writeDurationSeconds prometheus.Histogram
}

// NewMetrics registers the ingestion metrics against reg. promauto.With(reg)
// registers into the provided registry rather than the global default, so
// tests can pass a fresh prometheus.Registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		documentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragvec",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed by the ingestion pipeline, partitioned by outcome.",
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragvec",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks written to the vector store.",
		}),

		embedDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragvec",
			Subsystem: "ingest",
			Name:      "embed_duration_seconds",
			Help:      "Latency of per-document embedding calls.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		writeDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragvec",
			Subsystem: "ingest",
			Name:      "write_duration_seconds",
			Help:      "Latency of per-document vector store writes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) document(outcome string) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) chunks(n int) {
	if m == nil {
		return
	}
	m.chunksTotal.Add(float64(n))
}

func (m *Metrics) observeEmbed(d time.Duration) {
	if m == nil {
		return
	}
	m.embedDurationSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.writeDurationSeconds.Observe(d.Seconds())
}
