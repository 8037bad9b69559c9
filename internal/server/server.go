// Package server implements the HTTP server that exposes document ingestion
// and similarity search over a REST API, plus health, readiness and
// Prometheus metrics endpoints.
// The server is started by the `ragvec serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragvec-go/internal/ingestion"
	"github.com/54b3r/ragvec-go/internal/logging"
	"github.com/54b3r/ragvec-go/internal/rag"
	"github.com/54b3r/ragvec-go/internal/search"
	"github.com/54b3r/ragvec-go/internal/version"
)

// defaultMaxBodyBytes bounds POST bodies when Config.MaxBodyBytes is zero.
const defaultMaxBodyBytes = 32 << 20

// New constructs a Server. searcher is required; ingester may be nil, in
// which case POST /api/documents answers 403 (read-only mode).
func New(searcher SearchService, ingester IngestService, cfg *Config) (*Server, error) {
	if searcher == nil {
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	keys, err := newKeyring(cfg.APIKey, cfg.SearchAPIKey)
	if err != nil {
		return nil, err
	}

	s := &Server{
		retriever: search.NewRetriever(searcher, &search.RetrieverConfig{
			TopK:  cfg.DefaultNResults,
			Score: cfg.Score,
		}),
		ingester: ingester,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		keys:     keys,

		requestLimit: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
		docLimit:     newClientLimiter(cfg.IngestRate, cfg.IngestBurst),
	}
	s.stopRL = startEviction(s.log, s.requestLimit, s.docLimit)

	if len(keys) == 0 {
		s.log.Warn("server: RAGVEC_API_KEY not set, authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// applyDefaults fills zero-valued Config fields.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.IngestRate == 0 {
		cfg.IngestRate = defaultIngestRate
	}
	if cfg.IngestBurst == 0 {
		cfg.IngestBurst = defaultIngestBurst
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.DefaultNResults == 0 {
		cfg.DefaultNResults = search.DefaultNResults
	}
	if cfg.Score == nil {
		cfg.Score = search.CosineScore
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// routes builds the handler tree. Ingest and search are rate limited and
// authenticated, each under its own key scope; health, readiness and metrics
// are open.
func (s *Server) routes() http.Handler {
	protect := func(need scope, h http.HandlerFunc) http.Handler {
		return s.limitRequests(s.keys.require(need, h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/documents", s.metrics.instrument("documents", protect(scopeIngest, s.handleDocuments)))
	mux.Handle("POST /api/search", s.metrics.instrument("search", protect(scopeSearch, s.handleSearch)))
	mux.Handle("GET /api/health", s.metrics.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.metrics.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Handler returns the fully wrapped HTTP handler. It is what Start serves
// and is exposed for in-process tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("ragvec server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("ragvec server stopped")
		return nil
	}
}

// handleDocuments handles POST /api/documents. The body is a JSON array of
// {"content", "metadata"} objects or an object wrapping that array under
// "documents". Each document draws one token from the caller's ingest
// limit. The whole batch is ingested before the response is written.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeJSONError(w, r, http.StatusForbidden, "server is read-only; ingestion disabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	docs, err := decodeDocuments(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(docs) == 0 {
		writeJSONError(w, r, http.StatusBadRequest, "documents are required")
		return
	}
	if !s.chargeDocuments(w, r, len(docs)) {
		return
	}

	if err := s.ingester.AddDocuments(r.Context(), docs); err != nil {
		writeError(w, r, err)
		return
	}

	s.metrics.ingestedDocumentsTotal.Add(float64(len(docs)))
	logging.FromContext(r.Context()).Info("documents ingested", slog.Int("documents", len(docs)))
	writeJSON(w, r, http.StatusOK, ingestResponse{Status: "ok", Documents: len(docs)})
}

// decodeDocuments accepts either a bare array or {"documents": [...]}.
func decodeDocuments(body []byte) ([]rag.Document, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env documentsEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, fmt.Errorf("server: %w: invalid request body: %w", rag.ErrInvalidArgument, err)
		}
		if len(env.Documents) == 0 {
			return nil, nil
		}
		trimmed = env.Documents
	}
	return ingestion.ParseJSONDocuments(trimmed)
}

// handleSearch handles POST /api/search. The request goes through the eino
// retriever, so n_results and min_score map onto its TopK and
// ScoreThreshold options.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSONError(w, r, http.StatusBadRequest, "query is required")
		return
	}

	n := s.cfg.DefaultNResults
	if req.NResults != nil {
		n = *req.NResults
	}
	opts := []retriever.Option{retriever.WithTopK(n)}
	if req.MinScore != nil {
		opts = append(opts, retriever.WithScoreThreshold(*req.MinScore))
	}

	docs, err := s.retriever.Retrieve(r.Context(), req.Query, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, scores := search.FromDocuments(docs)
	writeJSON(w, r, http.StatusOK, searchResponse{Query: req.Query, Result: res, Scores: scores})
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	// Status is always "ok" while the process is serving.
	Status string `json:"status"`
	// Version is the build version line.
	Version string `json:"version"`
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Version: version.String()})
}

// statusFor maps pipeline errors onto HTTP status codes: caller mistakes are
// 400, collaborator failures are 502, anything else is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrInvalidArgument), errors.Is(err, rag.ErrMissingMetadata):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrEmbedding), errors.Is(err, rag.ErrStore):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs err and writes it with the status chosen by statusFor.
// 5xx bodies carry a generic message; the detail stays in the log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := logging.FromContext(r.Context())
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.Int("status", status), slog.Any("error", err))
		msg = http.StatusText(status)
		if status == http.StatusBadGateway {
			msg = upstreamMessage(err)
		}
	} else {
		log.Warn("request rejected", slog.Int("status", status), slog.Any("error", err))
	}
	writeJSONError(w, r, status, msg)
}

// upstreamMessage names the collaborator that failed without its error text.
func upstreamMessage(err error) string {
	if errors.Is(err, rag.ErrEmbedding) {
		return "embedding service failed"
	}
	return "vector store failed"
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
