package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver

	"github.com/54b3r/ragvec-go/internal/rag"
)

// PgVectorStore is a rag.Store backed by PostgreSQL with the pgvector
// extension. Each collection is its own table.
type PgVectorStore struct {
	db         *sql.DB
	collection string
	table      string
	dimension  int
}

// NewPgVectorStore connects to dsn and ensures the collection table exists.
// dimension fixes the vector column width.
func NewPgVectorStore(ctx context.Context, dsn, collection string, dimension int) (*PgVectorStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector: %w: dimension must be positive", rag.ErrInvalidArgument)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgvector: ping database: %w", err)
	}

	s := &PgVectorStore{
		db:         db,
		collection: collection,
		table:      pgx.Identifier{collection}.Sanitize(),
		dimension:  dimension,
	}
	if err := s.migrate(ctx, false); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the extension and table; drop discards the table first.
func (s *PgVectorStore) migrate(ctx context.Context, drop bool) error {
	stmts := []string{`CREATE EXTENSION IF NOT EXISTS vector`}
	if drop {
		stmts = append(stmts, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table))
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		document TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector(%d) NOT NULL
	)`, s.table, s.dimension))

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: migrate: %w", err)
		}
	}
	return nil
}

// Reset drops and recreates the collection table.
func (s *PgVectorStore) Reset(ctx context.Context) error {
	return s.migrate(ctx, true)
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Add inserts a batch in one transaction. A duplicate id fails the whole
// batch with rag.ErrInvalidArgument.
func (s *PgVectorStore) Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if err := rag.ValidateBatch(ids, embeddings, documents, metadatas); err != nil {
		return err
	}
	if _, err := checkBatch(ids, embeddings, s.dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgvector: add: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := fmt.Sprintf(`INSERT INTO %s (id, document, metadata, embedding) VALUES ($1, $2, $3, $4::vector)`, s.table)
	for i, id := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("pgvector: %w: metadata for %q: %w", rag.ErrInvalidArgument, id, err)
		}
		if _, err := tx.ExecContext(ctx, q, id, documents[i], string(meta), formatVector(embeddings[i])); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("pgvector: %w: duplicate id %q", rag.ErrInvalidArgument, id)
			}
			return fmt.Errorf("pgvector: add %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgvector: add commit: %w", err)
	}
	return nil
}

// Query orders by cosine distance (the <=> operator), ties by insertion.
func (s *PgVectorStore) Query(ctx context.Context, queryEmbeddings [][]float32, nResults int, include rag.Include) (*rag.QueryResult, error) {
	if err := validateQuery(queryEmbeddings, nResults); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT id, document, metadata, embedding <=> $1::vector AS distance
		FROM %s
		ORDER BY distance ASC, seq ASC
		LIMIT $2`, s.table)

	res := &rag.QueryResult{IDs: make([][]string, len(queryEmbeddings))}
	if include.Has(rag.IncludeDocuments) {
		res.Documents = make([][]string, len(queryEmbeddings))
	}
	if include.Has(rag.IncludeMetadatas) {
		res.Metadatas = make([][]map[string]any, len(queryEmbeddings))
	}
	if include.Has(rag.IncludeDistances) {
		res.Distances = make([][]float32, len(queryEmbeddings))
	}

	for i, vec := range queryEmbeddings {
		if len(vec) != s.dimension {
			return nil, fmt.Errorf("pgvector: %w: query dimension %d, want %d", rag.ErrInvalidArgument, len(vec), s.dimension)
		}
		if err := s.queryOne(ctx, q, vec, nResults, i, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *PgVectorStore) queryOne(ctx context.Context, q string, vec []float32, n, idx int, res *rag.QueryResult) error {
	rows, err := s.db.QueryContext(ctx, q, formatVector(vec), n)
	if err != nil {
		return fmt.Errorf("pgvector: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, doc  string
			metaJSON []byte
			dist     float64
		)
		if err := rows.Scan(&id, &doc, &metaJSON, &dist); err != nil {
			return fmt.Errorf("pgvector: scan row: %w", err)
		}
		res.IDs[idx] = append(res.IDs[idx], id)
		if res.Documents != nil {
			res.Documents[idx] = append(res.Documents[idx], doc)
		}
		if res.Metadatas != nil {
			meta, err := decodeMetadata(metaJSON)
			if err != nil {
				return fmt.Errorf("pgvector: decode metadata for %q: %w", id, err)
			}
			res.Metadatas[idx] = append(res.Metadatas[idx], meta)
		}
		if res.Distances != nil {
			res.Distances[idx] = append(res.Distances[idx], float32(dist))
		}
	}
	return rows.Err()
}

// Describe reports the collection name and chunk count.
func (s *PgVectorStore) Describe(ctx context.Context) (rag.CollectionInfo, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return rag.CollectionInfo{}, fmt.Errorf("pgvector: count: %w", err)
	}
	return rag.CollectionInfo{Name: s.collection, Chunks: n}, nil
}

// Name returns the dependency label used in readiness responses.
func (s *PgVectorStore) Name() string { return "pgvector" }

// Ping verifies the database is reachable.
func (s *PgVectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

// formatVector renders vec in pgvector text form: "[0.1,0.2,0.3]".
func formatVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

var (
	_ rag.Store     = (*PgVectorStore)(nil)
	_ rag.Describer = (*PgVectorStore)(nil)
)
