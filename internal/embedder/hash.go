package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size of the hash embedder when none
// is configured.
const DefaultHashDimensions = 256

// HashEmbedder is a deterministic, offline rag.Embedder using signed feature
// hashing of lower-cased word tokens. Vectors are L2-normalised, so texts
// sharing vocabulary land close under cosine distance. It needs no model
// server and suits local runs and tests; it carries no semantics beyond
// word overlap.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
// Non-positive sizes select DefaultHashDimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultHashDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the output vector size.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Embed hashes every text independently. It never fails unless ctx is done.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embedOne(t)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		// The top bit picks the sign so collisions tend to cancel.
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// Name returns the dependency label used in readiness responses.
func (e *HashEmbedder) Name() string { return "hash" }

// Ping always succeeds.
func (e *HashEmbedder) Ping(_ context.Context) error { return nil }
