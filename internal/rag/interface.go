// Package rag defines the types and collaborator interfaces shared by the
// ingestion and query pipelines: documents, the embedding service, and the
// vector store. Concrete implementations (Qdrant, SQLite, Ollama, etc.)
// satisfy these interfaces so the pipelines never depend on a specific backend.
package rag

import (
	"context"
)

// Document is a unit of caller-supplied text to be ingested.
type Document struct {
	// Content is the raw text of the document. Empty content yields no chunks.
	Content string

	// Metadata holds caller-supplied scalar values (string, bool, integer,
	// float). A nil map on a document with content is a contract violation
	// reported as ErrMissingMetadata.
	Metadata map[string]any
}

// Reserved metadata keys written by the ingestion pipeline. Caller values
// under these keys are replaced.
const (
	// MetaID holds the chunk id.
	MetaID = "id"
	// MetaChunkSize holds the chunk length in characters.
	MetaChunkSize = "chunk_size"
)

// Include selects the optional fields returned by Store.Query. IDs are
// always returned.
type Include uint8

const (
	// IncludeDocuments requests the chunk texts.
	IncludeDocuments Include = 1 << iota
	// IncludeMetadatas requests the chunk metadata maps.
	IncludeMetadatas
	// IncludeDistances requests the query-to-chunk distances.
	IncludeDistances
)

// IncludeAll requests every optional field.
const IncludeAll = IncludeDocuments | IncludeMetadatas | IncludeDistances

// Has reports whether all bits of f are set in i.
func (i Include) Has(f Include) bool { return i&f == f }

// QueryResult is the batch-shaped response of Store.Query. The outer slice
// is parallel to the query embeddings; each inner slice is ordered nearest
// first. Fields that were not requested are nil.
type QueryResult struct {
	IDs       [][]string
	Documents [][]string
	Metadatas [][]map[string]any
	Distances [][]float32
}

// Store persists (id, embedding, text, metadata) tuples and answers
// nearest-neighbour queries. Implementations in this module are safe for
// concurrent use.
type Store interface {
	// Add appends a batch. All four slices must have the same length;
	// mismatched lengths are rejected with ErrInvalidArgument.
	Add(ctx context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error

	// Query returns up to nResults neighbours for every query embedding,
	// nearest first. A collection smaller than nResults returns what it has.
	Query(ctx context.Context, queryEmbeddings [][]float32, nResults int, include Include) (*QueryResult, error)

	// Reset discards everything persisted at the store's location and
	// recreates an empty collection.
	Reset(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// CollectionInfo summarises the collection a store serves.
type CollectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`
	// Description is the text recorded when the collection was created.
	// Backends that keep none leave it empty.
	Description string `json:"description,omitempty"`
	// Chunks is the number of stored chunks.
	Chunks int `json:"chunks"`
}

// Describer is implemented by stores that can report on their collection.
type Describer interface {
	Describe(ctx context.Context) (CollectionInfo, error)
}

// Embedder converts text into fixed-dimension dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
