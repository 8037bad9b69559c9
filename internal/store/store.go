// Package store provides rag.Store implementations: an in-memory store, a
// SQLite-backed persistent store, and remote Qdrant and pgvector stores.
// The memory and SQLite stores rank by brute force over every chunk.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "rag_documents"

// CollectionDescription is recorded against every collection created by Reset.
const CollectionDescription = "RAG document collection"

// collectionNamePattern restricts collection names to identifiers that are
// safe in every backend.
var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,62}$`)

// ValidateCollectionName rejects names the backends cannot store.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("store: %w: invalid collection name %q", rag.ErrInvalidArgument, name)
	}
	return nil
}

// SQLiteStore is a rag.Store persisted in a local SQLite database. Chunks of
// every collection share one table keyed by (collection, id).
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// collection scopes every read and write.
	collection string
	// metric ranks query results.
	metric Metric
}

// DefaultDBPath returns the default path for the vector database.
// It resolves to ~/.ragvec/vectors.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragvec")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "vectors.db"), nil
}

// OpenSQLite opens (or creates) a SQLiteStore at path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests. Existing
// chunks are left in place; call Reset to discard them.
func OpenSQLite(path, collection string, metric Metric) (*SQLiteStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = MetricCosine
	}

	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("store: could not create %s: %w", dir, err)
			}
		}
		// WAL mode improves concurrent read performance and is safe for single-host use.
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, collection: collection, metric: metric}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteDDL = `
CREATE TABLE IF NOT EXISTS collections (
    name         TEXT    PRIMARY KEY,
    description  TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS chunks (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    collection   TEXT    NOT NULL,
    id           TEXT    NOT NULL,
    document     TEXT    NOT NULL,
    metadata     TEXT    NOT NULL,  -- JSON object
    embedding    BLOB    NOT NULL,  -- little-endian float32
    UNIQUE (collection, id)
);
`

// migrate creates the schema if it does not already exist and registers the
// collection.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteDDL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	const q = `INSERT OR IGNORE INTO collections (name, description, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, s.collection, CollectionDescription, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: register collection: %w", err)
	}
	return nil
}

// Reset discards every persisted collection in the database and recreates
// an empty collection for this store.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: reset: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS chunks; DROP TABLE IF EXISTS collections;`); err != nil {
		return fmt.Errorf("store: reset drop: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteDDL); err != nil {
		return fmt.Errorf("store: reset create: %w", err)
	}
	const q = `INSERT INTO collections (name, description, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, s.collection, CollectionDescription, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: reset register: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: reset commit: %w", err)
	}
	return nil
}

// Add writes a batch in one transaction. Every embedding must match the
// width of the chunks already stored; a duplicate id or a mismatched width
// fails the whole batch with rag.ErrInvalidArgument.
func (s *SQLiteStore) Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if err := rag.ValidateBatch(ids, embeddings, documents, metadatas); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: add: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := s.storedDimension(ctx, tx)
	if err != nil {
		return err
	}
	if _, err := checkBatch(ids, embeddings, dim); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (collection, id, document, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: add prepare: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		meta, err := json.Marshal(metadatas[i])
		if err != nil {
			return fmt.Errorf("store: %w: metadata for %q: %w", rag.ErrInvalidArgument, id, err)
		}
		if _, err := stmt.ExecContext(ctx, s.collection, id, documents[i], string(meta), encodeEmbedding(embeddings[i])); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("store: %w: duplicate id %q", rag.ErrInvalidArgument, id)
			}
			return fmt.Errorf("store: add %q: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: add commit: %w", err)
	}
	return nil
}

// storedDimension returns the embedding width of the collection, or zero
// when it holds no chunks yet.
func (s *SQLiteStore) storedDimension(ctx context.Context, tx *sql.Tx) (int, error) {
	var size int
	err := tx.QueryRowContext(ctx,
		`SELECT length(embedding) FROM chunks WHERE collection = ? LIMIT 1`, s.collection).Scan(&size)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("store: read dimension: %w", err)
	}
	return size / bytesPerFloat, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// Query loads every chunk of the collection and ranks it against each query.
func (s *SQLiteStore) Query(ctx context.Context, queryEmbeddings [][]float32, nResults int, include rag.Include) (*rag.QueryResult, error) {
	if err := validateQuery(queryEmbeddings, nResults); err != nil {
		return nil, err
	}

	recs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	batches := make([][]hit, len(queryEmbeddings))
	for q, vec := range queryEmbeddings {
		hits, err := nearest(s.metric, vec, recs, nResults)
		if err != nil {
			return nil, err
		}
		batches[q] = hits
	}
	return toQueryResult(batches, include), nil
}

// load reads the collection in insertion order.
func (s *SQLiteStore) load(ctx context.Context) ([]record, error) {
	const q = `SELECT id, document, metadata, embedding FROM chunks WHERE collection = ? ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, q, s.collection)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var recs []record
	for rows.Next() {
		var (
			r    record
			meta string
			blob []byte
		)
		if err := rows.Scan(&r.id, &r.document, &meta, &blob); err != nil {
			return nil, fmt.Errorf("store: query scan: %w", err)
		}
		if r.metadata, err = decodeMetadata([]byte(meta)); err != nil {
			return nil, fmt.Errorf("store: decode metadata for %q: %w", r.id, err)
		}
		if r.embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("store: decode embedding for %q: %w", r.id, err)
		}
		r.magnitude = magnitude(r.embedding)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query rows: %w", err)
	}
	return recs, nil
}

// Description returns the description recorded for the collection.
func (s *SQLiteStore) Description(ctx context.Context) (string, error) {
	var desc string
	err := s.db.QueryRowContext(ctx, `SELECT description FROM collections WHERE name = ?`, s.collection).Scan(&desc)
	if err != nil {
		return "", fmt.Errorf("store: description: %w", err)
	}
	return desc, nil
}

// Count returns the number of chunks in the collection.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE collection = ?`, s.collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Describe reports the collection name, its description and chunk count.
func (s *SQLiteStore) Describe(ctx context.Context) (rag.CollectionInfo, error) {
	desc, err := s.Description(ctx)
	if err != nil {
		return rag.CollectionInfo{}, err
	}
	n, err := s.Count(ctx)
	if err != nil {
		return rag.CollectionInfo{}, err
	}
	return rag.CollectionInfo{Name: s.collection, Description: desc, Chunks: n}, nil
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

var (
	_ rag.Store     = (*SQLiteStore)(nil)
	_ rag.Describer = (*SQLiteStore)(nil)
)
