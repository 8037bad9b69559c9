package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// MemoryStore is an in-process rag.Store using brute-force search. It does
// not survive the process, so Reset only clears what this instance holds.
type MemoryStore struct {
	mu sync.RWMutex
	// metric is the distance used to rank results.
	metric Metric
	// dimension is fixed by the first Add after a reset; zero means unset.
	dimension int
	// records holds chunks in insertion order.
	records []record
	// ids indexes record ids for duplicate detection.
	ids map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(metric Metric) *MemoryStore {
	if metric == "" {
		metric = MetricCosine
	}
	return &MemoryStore{metric: metric, ids: make(map[string]struct{})}
}

// Add appends a batch. Ids must be new and every embedding must share the
// store's dimension; the batch is rejected whole otherwise.
func (s *MemoryStore) Add(_ context.Context, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	if err := rag.ValidateBatch(ids, embeddings, documents, metadatas); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := checkBatch(ids, embeddings, s.dimension)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, dup := s.ids[id]; dup {
			return fmt.Errorf("store: %w: duplicate id %q", rag.ErrInvalidArgument, id)
		}
	}

	for i, id := range ids {
		vec := slices.Clone(embeddings[i])
		s.records = append(s.records, record{
			id:        id,
			embedding: vec,
			magnitude: magnitude(vec),
			document:  documents[i],
			metadata:  maps.Clone(metadatas[i]),
		})
		s.ids[id] = struct{}{}
	}
	s.dimension = dim
	return nil
}

// Query ranks every stored chunk against each query embedding.
func (s *MemoryStore) Query(_ context.Context, queryEmbeddings [][]float32, nResults int, include rag.Include) (*rag.QueryResult, error) {
	if err := validateQuery(queryEmbeddings, nResults); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([][]hit, len(queryEmbeddings))
	for q, vec := range queryEmbeddings {
		hits, err := nearest(s.metric, vec, s.records, nResults)
		if err != nil {
			return nil, err
		}
		batches[q] = hits
	}
	return toQueryResult(batches, include), nil
}

// Reset drops every chunk and forgets the dimension.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.ids = make(map[string]struct{})
	s.dimension = 0
	return nil
}

// Count returns the number of stored chunks.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Describe reports the chunk count. The in-memory store holds a single
// unnamed collection, reported as "memory".
func (s *MemoryStore) Describe(_ context.Context) (rag.CollectionInfo, error) {
	return rag.CollectionInfo{Name: "memory", Chunks: s.Count()}, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Name returns the dependency label used in readiness responses.
func (s *MemoryStore) Name() string { return "memory" }

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

var (
	_ rag.Store     = (*MemoryStore)(nil)
	_ rag.Describer = (*MemoryStore)(nil)
)
