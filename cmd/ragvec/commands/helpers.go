package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/ragvec-go/internal/embedder"
	"github.com/54b3r/ragvec-go/internal/rag"
	"github.com/54b3r/ragvec-go/internal/search"
	"github.com/54b3r/ragvec-go/internal/store"
)

// buildEmbedder validates the embedding configuration and constructs the
// configured backend.
func buildEmbedder(ctx context.Context, log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", embedder.Backend()),
		slog.String("model", getEnvOrDefault("EMBEDDING_MODEL", "(default)")),
	)
	return emb, nil
}

// storeConfigFromEnv resolves the vector store settings from the
// environment (populated by config.Load).
func storeConfigFromEnv() (store.Config, error) {
	metric, err := store.ParseMetric(os.Getenv("VECTOR_DISTANCE"))
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Backend:    getEnvOrDefault("VECTOR_STORE", store.BackendSQLite),
		Collection: getEnvOrDefault("COLLECTION_NAME", store.DefaultCollection),
		Path:       os.Getenv("VECTOR_DB_PATH"),
		Metric:     metric,
		Dimensions: embedder.DefaultDimensions(embedder.Backend()),
		Qdrant: store.QdrantConfig{
			Host:   getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:   getEnvInt("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
			UseTLS: strings.EqualFold(os.Getenv("QDRANT_TLS"), "true"),
		},
		PostgresDSN: os.Getenv("PGVECTOR_DSN"),
	}, nil
}

// scoreFunc picks the distance-to-score mapping that matches the metric the
// configured store actually ranks by. Remote stores always use cosine.
func scoreFunc(cfg store.Config) search.ScoreFunc {
	if cfg.Metric == store.MetricL2 && (cfg.Backend == store.BackendMemory || cfg.Backend == store.BackendSQLite) {
		return search.L2Score
	}
	return search.CosineScore
}

// openStore opens the configured vector store. The caller owns Close.
func openStore(ctx context.Context, log *slog.Logger) (rag.Store, error) {
	cfg, err := storeConfigFromEnv()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s vector store: %w", cfg.Backend, err)
	}
	log.Info("vector store ready",
		slog.String("backend", cfg.Backend),
		slog.String("collection", cfg.Collection),
		slog.String("distance", string(cfg.Metric)),
	)
	return s, nil
}

// closeStore closes s and logs, rather than returns, a close failure.
func closeStore(s rag.Store, log *slog.Logger) {
	if err := s.Close(); err != nil {
		log.Warn("vector store close failed", slog.Any("error", err))
	}
}

// getEnvOrDefault returns the value of the environment variable key, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the environment variable key, or
// fallback if the variable is unset, empty, or not a valid integer.
func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
