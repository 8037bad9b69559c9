package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragvec-go/internal/rag"
	"github.com/54b3r/ragvec-go/internal/search"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Ingesting a large batch embeds every chunk inline, so keep it generous.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /api/search
	// and /api/documents (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// IngestRate is the sustained number of documents per second one IP may
	// ingest. Defaults to 50 if zero.
	IngestRate float64
	// IngestBurst is the per-IP document burst. It also caps the documents in
	// one POST /api/documents batch. Defaults to 500 if zero.
	IngestBurst int
	// APIKey is the Bearer token granting search and ingestion.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// SearchAPIKey is an optional Bearer token accepted on POST /api/search
	// only. It requires APIKey.
	SearchAPIKey string
	// MaxBodyBytes caps the size of POST bodies. Defaults to 32 MiB.
	MaxBodyBytes int64
	// DefaultNResults is used when a search request omits n_results.
	// Defaults to search.DefaultNResults.
	DefaultNResults int
	// Score converts store distances into the scores reported by
	// POST /api/search and compared against min_score. It must match the
	// store's metric. Defaults to search.CosineScore.
	Score search.ScoreFunc
	// MetricsRegistry receives the server's HTTP metrics.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// SearchService answers similarity queries. *search.Searcher satisfies it.
type SearchService = search.Querier

// IngestService writes document batches into the store.
// *ingestion.Pipeline satisfies it.
type IngestService interface {
	AddDocuments(ctx context.Context, docs []rag.Document) error
}

// Server is the HTTP server that exposes ingestion and search.
type Server struct {
	// retriever serves POST /api/search on top of the SearchService.
	retriever retriever.Retriever
	// ingester handles POST /api/documents; nil means the server is read-only.
	ingester IngestService
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// keys holds the accepted Bearer tokens; empty disables auth.
	keys keyring
	// requestLimit charges one token per protected request.
	requestLimit *clientLimiter
	// docLimit charges one token per ingested document.
	docLimit *clientLimiter
	// stopRL stops the rate limiters' background eviction goroutine on shutdown.
	stopRL func()
}

// documentsEnvelope is the object form of the POST /api/documents body.
// A bare JSON array of documents is accepted as well.
type documentsEnvelope struct {
	// Documents is a JSON array of {"content", "metadata"} objects.
	Documents json.RawMessage `json:"documents"`
}

// ingestResponse is the JSON response for POST /api/documents.
type ingestResponse struct {
	// Status is "ok" on success.
	Status string `json:"status"`
	// Documents is the number of documents accepted in the batch.
	Documents int `json:"documents"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural language text to search for.
	Query string `json:"query"`
	// NResults is the number of neighbours requested. Omitted means the
	// configured default; an explicit zero or negative value is rejected.
	NResults *int `json:"n_results,omitempty"`
	// MinScore, when set, drops matches scoring below it.
	MinScore *float64 `json:"min_score,omitempty"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Query echoes the request query.
	Query string `json:"query"`
	*search.Result
	// Scores holds one similarity score per match, aligned with Result.
	Scores []float64 `json:"scores"`
}

// errorResponse is the JSON body returned for failed API requests.
type errorResponse struct {
	// Error is a human-readable failure description.
	Error string `json:"error"`
}
