package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragvec-go/internal/chunker"
	"github.com/54b3r/ragvec-go/internal/ingestion"
	"github.com/54b3r/ragvec-go/internal/logging"
	"github.com/54b3r/ragvec-go/internal/search"
	"github.com/54b3r/ragvec-go/internal/server"
)

// startupProbeTimeout bounds the dependency check run before listening.
const startupProbeTimeout = 10 * time.Second

// NewServeCmd constructs the `ragvec serve` command, which starts the HTTP
// API for ingestion and search.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var readOnly bool
	var preload string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragvec HTTP API",
		Long: `Start the ragvec HTTP API.

Endpoints:
  POST /api/documents   ingest a JSON batch of {content, metadata} documents
  POST /api/search      {"query": "...", "n_results": 5, "min_score": 0.5}
  GET  /api/health      liveness and build version
  GET  /api/ready       embedder and vector store reachability
  GET  /metrics         Prometheus metrics

Unless --read-only is set the vector store is reset at startup, exactly as
'ragvec ingest' does. Use --read-only to serve searches over a store that was
populated earlier.

Set RAGVEC_API_KEY to require "Authorization: Bearer <key>" on /api/documents
and /api/search. RAGVEC_SEARCH_API_KEY adds a second key that may only search.

Ingestion is rate limited per client and per document; RAGVEC_INGEST_BURST
(default 500) is also the largest batch one request may carry.

Examples:
  ragvec serve
  ragvec serve --port 9090 --path ./docs
  ragvec serve --read-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("RAGVEC_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("RAGVEC_PORT", port)
			}
			if readOnly && preload != "" {
				return fmt.Errorf("serve: --path cannot be combined with --read-only")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			emb, err := buildEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			storeCfg, err := storeConfigFromEnv()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			st, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeStore(st, log)

			pingers := server.Collect(emb, st)
			probeDependencies(ctx, log, pingers)

			var ingester server.IngestService
			if !readOnly {
				pipeline, err := ingestion.NewPipeline(ctx, emb, st, &ingestion.Config{
					ChunkSize: getEnvInt("CHUNK_SIZE", chunker.DefaultChunkSize),
					Logger:    log,
					Metrics:   ingestion.NewMetrics(reg),
				})
				if err != nil {
					return fmt.Errorf("serve: failed to create pipeline: %w", err)
				}
				if preload != "" {
					docs, err := ingestion.LoadDocuments(preload)
					if err != nil {
						return fmt.Errorf("serve: %w", err)
					}
					if err := pipeline.AddDocuments(ctx, docs); err != nil {
						return fmt.Errorf("serve: preload %s: %w", preload, err)
					}
					log.Info("preload complete", slog.String("path", preload), slog.Int("documents", len(docs)))
				}
				ingester = pipeline
			} else {
				log.Info("read-only mode: ingestion disabled, store left untouched")
			}

			searcher, err := search.NewSearcher(emb, st, &search.Config{
				Logger:  log,
				Metrics: search.NewMetrics(reg),
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			srv, err := server.New(searcher, ingester, &server.Config{
				Host:            host,
				Port:            port,
				Logger:          log,
				Pingers:         pingers,
				APIKey:          os.Getenv("RAGVEC_API_KEY"),
				SearchAPIKey:    os.Getenv("RAGVEC_SEARCH_API_KEY"),
				IngestBurst:     getEnvInt("RAGVEC_INGEST_BURST", 0),
				DefaultNResults: getEnvInt("SEARCH_N_RESULTS", search.DefaultNResults),
				Score:           scoreFunc(storeCfg),
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides RAGVEC_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides RAGVEC_PORT)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Disable POST /api/documents and do not reset the store")
	cmd.Flags().StringVar(&preload, "path", "", "File or directory to ingest before serving")

	return cmd
}

// probeDependencies checks every dependency once before the server starts.
// A failure is logged, not fatal: /api/ready keeps reporting it until the
// dependency comes up.
func probeDependencies(ctx context.Context, log *slog.Logger, pingers []server.Pinger) {
	if len(pingers) == 0 {
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()
	if err := server.NewMultiPinger(pingers...).Ping(probeCtx); err != nil {
		log.Warn("dependency not reachable at startup", slog.Any("error", err))
		return
	}
	log.Info("dependencies reachable", slog.Int("checks", len(pingers)))
}
