// Package search implements the query pipeline: a query string is embedded
// as a single-item batch, the store is asked for its nearest chunks, and the
// batch-shaped store response is unwrapped into flat, aligned sequences.
// This pipeline is invoked by the `ragvec search` command and POST /api/search.
package search

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// DefaultNResults is the number of neighbours returned when the caller does
// not ask for a specific count.
const DefaultNResults = 5

// Result holds the nearest chunks for one query. All four slices have the
// same length, are aligned index-for-index, and are ordered by ascending
// distance.
type Result struct {
	IDs       []string         `json:"ids"`
	Documents []string         `json:"documents"`
	Metadatas []map[string]any `json:"metadatas"`
	Distances []float32        `json:"distances"`
}

// Len returns the number of matches.
func (r *Result) Len() int { return len(r.IDs) }

// Config holds the configuration for the query pipeline.
type Config struct {
	// Logger receives query logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records query counters. Nil disables metrics.
	Metrics *Metrics
}

// Searcher answers nearest-neighbour queries against a store. Unlike the
// ingestion pipeline it never resets the store. It adds no locking of its
// own.
type Searcher struct {
	embedder rag.Embedder
	store    rag.Store
	metrics  *Metrics
	log      *slog.Logger
}

// NewSearcher constructs a Searcher over the given collaborators.
func NewSearcher(embedder rag.Embedder, store rag.Store, cfg *Config) (*Searcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("search: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("search: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Searcher{embedder: embedder, store: store, metrics: cfg.Metrics, log: log}, nil
}

// Search embeds query and returns up to nResults nearest chunks. A store
// holding fewer chunks returns what it has; nResults <= 0 is rejected with
// rag.ErrInvalidArgument before any collaborator is called.
func (s *Searcher) Search(ctx context.Context, query string, nResults int) (*Result, error) {
	if nResults <= 0 {
		return nil, fmt.Errorf("search: %w: n_results must be positive, got %d", rag.ErrInvalidArgument, nResults)
	}

	start := time.Now()
	res, err := s.search(ctx, query, nResults)
	s.metrics.observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.log.Debug("search complete",
		slog.Int("n_results", nResults),
		slog.Int("matches", res.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (s *Searcher) search(ctx context.Context, query string, nResults int) (*Result, error) {
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search: %w: embed query: %w", rag.ErrEmbedding, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("search: %w: expected 1 query embedding, got %d", rag.ErrEmbedding, len(vecs))
	}

	raw, err := s.store.Query(ctx, vecs, nResults, rag.IncludeAll)
	if err != nil {
		return nil, fmt.Errorf("search: %w: query: %w", rag.ErrStore, err)
	}
	return UnwrapSingleBatch(raw), nil
}

// UnwrapSingleBatch flattens the first batch of a store response into a
// Result. Fields are truncated to their shortest common length so the
// sequences stay aligned, missing fields are filled with zero values, and
// matches are stably re-sorted by ascending distance. A nil or empty
// response yields an empty Result.
func UnwrapSingleBatch(raw *rag.QueryResult) *Result {
	out := &Result{
		IDs:       []string{},
		Documents: []string{},
		Metadatas: []map[string]any{},
		Distances: []float32{},
	}
	if raw == nil || len(raw.IDs) == 0 {
		return out
	}

	ids := raw.IDs[0]
	n := len(ids)
	docs := first(raw.Documents)
	metas := first(raw.Metadatas)
	dists := first(raw.Distances)
	if raw.Documents != nil {
		n = min(n, len(docs))
	}
	if raw.Metadatas != nil {
		n = min(n, len(metas))
	}
	if raw.Distances != nil {
		n = min(n, len(dists))
	}

	type match struct {
		id   string
		doc  string
		meta map[string]any
		dist float32
	}
	matches := make([]match, n)
	for i := range n {
		m := match{id: ids[i]}
		if i < len(docs) {
			m.doc = docs[i]
		}
		if i < len(metas) {
			m.meta = metas[i]
		}
		if i < len(dists) {
			m.dist = dists[i]
		}
		matches[i] = m
	}
	slices.SortStableFunc(matches, func(a, b match) int { return cmp.Compare(a.dist, b.dist) })

	for _, m := range matches {
		out.IDs = append(out.IDs, m.id)
		out.Documents = append(out.Documents, m.doc)
		out.Metadatas = append(out.Metadatas, m.meta)
		out.Distances = append(out.Distances, m.dist)
	}
	return out
}

// first returns the first batch of a batch-shaped field, or nil.
func first[T any](batches [][]T) []T {
	if len(batches) == 0 {
		return nil
	}
	return batches[0]
}
