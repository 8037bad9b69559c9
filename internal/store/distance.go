package store

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/viant/vec/search"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// Metric selects the distance used by the brute-force stores (memory and
// SQLite). Remote stores use their own cosine distance.
type Metric string

const (
	// MetricCosine is 1 - cosine similarity. Zero vectors are at distance 1.
	MetricCosine Metric = "cosine"
	// MetricL2 is the Euclidean distance.
	MetricL2 Metric = "l2"
)

// ParseMetric resolves a metric name; the empty string selects cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2, "euclidean":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("store: %w: unknown distance metric %q (valid: cosine, l2)", rag.ErrInvalidArgument, s)
	}
}

// distance computes the distance between a query and a stored vector. The
// precomputed magnitudes short-circuit zero vectors to distance 1.
func (m Metric) distance(query []float32, queryMag float32, vec []float32, vecMag float32) float32 {
	if m == MetricL2 {
		return search.Float32s(query).EuclideanDistance(vec)
	}
	if queryMag == 0 || vecMag == 0 {
		return 1
	}
	return search.Float32s(query).CosineDistance(vec)
}

func magnitude(v []float32) float32 {
	return search.Float32s(v).Magnitude()
}

// record is one stored chunk as held by the brute-force stores.
type record struct {
	id        string
	embedding []float32
	magnitude float32
	document  string
	metadata  map[string]any
}

// hit is a record scored against a query.
type hit struct {
	rec      *record
	distance float32
}

// nearest scores every record against query and returns the n closest,
// nearest first. Ties keep insertion order.
func nearest(metric Metric, query []float32, recs []record, n int) ([]hit, error) {
	qMag := magnitude(query)
	hits := make([]hit, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if len(r.embedding) != len(query) {
			return nil, fmt.Errorf("store: %w: query dimension %d does not match stored dimension %d",
				rag.ErrInvalidArgument, len(query), len(r.embedding))
		}
		hits = append(hits, hit{rec: r, distance: metric.distance(query, qMag, r.embedding, r.magnitude)})
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(a.distance, b.distance) })
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

// toQueryResult shapes per-query hits into the batch result, filling only
// the requested fields. Metadata maps are cloned so callers cannot mutate
// stored state.
func toQueryResult(batches [][]hit, include rag.Include) *rag.QueryResult {
	res := &rag.QueryResult{IDs: make([][]string, len(batches))}
	if include.Has(rag.IncludeDocuments) {
		res.Documents = make([][]string, len(batches))
	}
	if include.Has(rag.IncludeMetadatas) {
		res.Metadatas = make([][]map[string]any, len(batches))
	}
	if include.Has(rag.IncludeDistances) {
		res.Distances = make([][]float32, len(batches))
	}
	for q, hits := range batches {
		res.IDs[q] = make([]string, len(hits))
		if res.Documents != nil {
			res.Documents[q] = make([]string, len(hits))
		}
		if res.Metadatas != nil {
			res.Metadatas[q] = make([]map[string]any, len(hits))
		}
		if res.Distances != nil {
			res.Distances[q] = make([]float32, len(hits))
		}
		for i, h := range hits {
			res.IDs[q][i] = h.rec.id
			if res.Documents != nil {
				res.Documents[q][i] = h.rec.document
			}
			if res.Metadatas != nil {
				res.Metadatas[q][i] = maps.Clone(h.rec.metadata)
			}
			if res.Distances != nil {
				res.Distances[q][i] = h.distance
			}
		}
	}
	return res
}

// validateQuery checks the arguments shared by every Store.Query.
func validateQuery(queryEmbeddings [][]float32, nResults int) error {
	if nResults <= 0 {
		return fmt.Errorf("store: %w: n_results must be positive, got %d", rag.ErrInvalidArgument, nResults)
	}
	if len(queryEmbeddings) == 0 {
		return fmt.Errorf("store: %w: no query embeddings", rag.ErrInvalidArgument)
	}
	return nil
}

// checkBatch rejects ids repeated within a batch and embeddings that are
// empty or whose width differs from dim. A zero dim adopts the width of the
// first embedding. It returns the batch dimension.
func checkBatch(ids []string, embeddings [][]float32, dim int) (int, error) {
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return 0, fmt.Errorf("store: %w: duplicate id %q in batch", rag.ErrInvalidArgument, id)
		}
		seen[id] = struct{}{}
		if dim == 0 {
			dim = len(embeddings[i])
		}
		if len(embeddings[i]) == 0 || len(embeddings[i]) != dim {
			return 0, fmt.Errorf("store: %w: embedding %d has dimension %d, want %d",
				rag.ErrInvalidArgument, i, len(embeddings[i]), dim)
		}
	}
	return dim, nil
}
