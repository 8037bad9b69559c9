package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendPgVector = "pgvector"
)

// Config selects and configures a vector store backend.
type Config struct {
	// Backend is one of memory, sqlite, qdrant or pgvector (default: sqlite).
	Backend string

	// Collection names the collection in every backend (default: rag_documents).
	Collection string

	// Path is the SQLite database file (default: ~/.ragvec/vectors.db).
	Path string

	// Metric is the distance for the memory and SQLite backends.
	Metric Metric

	// Dimensions is the embedding width, required by qdrant and pgvector.
	Dimensions int

	// Qdrant holds connection settings for the qdrant backend.
	Qdrant QdrantConfig

	// PostgresDSN is the connection string for the pgvector backend.
	PostgresDSN string
}

// Open constructs the configured backend. The returned store still holds any
// previously persisted chunks.
func Open(ctx context.Context, cfg Config) (rag.Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return NewMemoryStore(cfg.Metric), nil

	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			p, err := DefaultDBPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return OpenSQLite(path, cfg.Collection, cfg.Metric)

	case BackendQdrant:
		if cfg.Dimensions <= 0 {
			return nil, fmt.Errorf("store: %w: qdrant requires EMBEDDING_DIMENSIONS", rag.ErrInvalidArgument)
		}
		qcfg := cfg.Qdrant
		qcfg.Collection = cfg.Collection
		qcfg.VectorSize = uint64(cfg.Dimensions)
		return NewQdrantStore(ctx, qcfg)

	case BackendPgVector:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("store: %w: pgvector requires PGVECTOR_DSN", rag.ErrInvalidArgument)
		}
		return NewPgVectorStore(ctx, cfg.PostgresDSN, cfg.Collection, cfg.Dimensions)

	default:
		return nil, fmt.Errorf("store: %w: unknown backend %q (valid: memory, sqlite, qdrant, pgvector)",
			rag.ErrInvalidArgument, cfg.Backend)
	}
}
