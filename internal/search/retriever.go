package search

import (
	"context"
	"maps"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// MetaKeyDistance is the document metadata key under which Retrieve records
// the raw store distance, next to eino's own "_score" key.
const MetaKeyDistance = "_distance"

// ScoreFunc maps a store distance onto a similarity score; larger is closer.
type ScoreFunc func(distance float32) float64

// CosineScore is the cosine similarity for a cosine distance: 1 - distance.
func CosineScore(distance float32) float64 { return 1 - float64(distance) }

// L2Score maps a Euclidean distance into (0, 1]: 1 / (1 + distance).
func L2Score(distance float32) float64 { return 1 / (1 + float64(distance)) }

// Querier is the search a Retriever delegates to. *Searcher satisfies it.
type Querier interface {
	Search(ctx context.Context, query string, nResults int) (*Result, error)
}

// RetrieverConfig holds the settings for a Retriever.
type RetrieverConfig struct {
	// TopK is used when a call does not pass retriever.WithTopK.
	// Defaults to DefaultNResults.
	TopK int
	// Score converts distances to scores. It must match the store's metric.
	// Defaults to CosineScore.
	Score ScoreFunc
}

// Retriever exposes a Querier as an eino retriever.Retriever. It serves
// POST /api/search and can be dropped into eino chains and graphs. Each
// returned document carries the chunk id, text and metadata; its score comes
// from the configured ScoreFunc and its distance is kept under
// MetaKeyDistance.
type Retriever struct {
	querier Querier
	topK    int
	score   ScoreFunc
}

// NewRetriever wraps q.
func NewRetriever(q Querier, cfg *RetrieverConfig) *Retriever {
	if cfg == nil {
		cfg = &RetrieverConfig{}
	}
	r := &Retriever{querier: q, topK: cfg.TopK, score: cfg.Score}
	if r.topK <= 0 {
		r.topK = DefaultNResults
	}
	if r.score == nil {
		r.score = CosineScore
	}
	return r
}

// Retrieve runs a search and converts the matches, nearest first.
// retriever.WithScoreThreshold drops matches scoring below the threshold.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)

	res, err := r.querier.Search(ctx, query, *options.TopK)
	if err != nil {
		return nil, err
	}

	docs := make([]*schema.Document, 0, res.Len())
	for i := range res.IDs {
		score := r.score(res.Distances[i])
		if options.ScoreThreshold != nil && score < *options.ScoreThreshold {
			continue
		}
		meta := maps.Clone(res.Metadatas[i])
		if meta == nil {
			meta = make(map[string]any, 2)
		}
		meta[MetaKeyDistance] = res.Distances[i]
		doc := &schema.Document{
			ID:       res.IDs[i],
			Content:  res.Documents[i],
			MetaData: meta,
		}
		docs = append(docs, doc.WithScore(score))
	}
	return docs, nil
}

// FromDocuments rebuilds a Result and the aligned scores from documents
// returned by Retrieve. The score and distance keys are stripped from the
// metadata.
func FromDocuments(docs []*schema.Document) (*Result, []float64) {
	out := &Result{
		IDs:       make([]string, 0, len(docs)),
		Documents: make([]string, 0, len(docs)),
		Metadatas: make([]map[string]any, 0, len(docs)),
		Distances: make([]float32, 0, len(docs)),
	}
	scores := make([]float64, 0, len(docs))
	for _, d := range docs {
		meta := maps.Clone(d.MetaData)
		dist, _ := meta[MetaKeyDistance].(float32)
		delete(meta, MetaKeyDistance)
		delete(meta, metaKeyScore)

		out.IDs = append(out.IDs, d.ID)
		out.Documents = append(out.Documents, d.Content)
		out.Metadatas = append(out.Metadatas, meta)
		out.Distances = append(out.Distances, dist)
		scores = append(scores, d.Score())
	}
	return out, scores
}

// metaKeyScore is the key schema.Document.WithScore writes.
const metaKeyScore = "_score"

var _ retriever.Retriever = (*Retriever)(nil)
