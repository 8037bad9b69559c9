package rag

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipelines and stores. Callers match with
// errors.Is; wrapped errors carry the detail.
var (
	// ErrInvalidArgument marks malformed input detected before any
	// collaborator call.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmbedding marks a failed or malformed Embedder call.
	ErrEmbedding = errors.New("embedding failure")

	// ErrStore marks a failed Store write or query.
	ErrStore = errors.New("store failure")

	// ErrMissingMetadata marks a non-empty document without a metadata map.
	ErrMissingMetadata = errors.New("missing metadata")
)

// ValidateBatch checks that the four parallel slices of a Store.Add call
// have the same length.
func ValidateBatch(ids []string, embeddings [][]float32, documents []string, metadatas []map[string]any) error {
	n := len(ids)
	if len(embeddings) != n || len(documents) != n || len(metadatas) != n {
		return fmt.Errorf("%w: batch length mismatch: ids=%d embeddings=%d documents=%d metadatas=%d",
			ErrInvalidArgument, n, len(embeddings), len(documents), len(metadatas))
	}
	return nil
}

// ValidateMetadataValue reports whether v is a scalar metadata value a
// store can persist.
func ValidateMetadataValue(key string, v any) error {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	default:
		return fmt.Errorf("%w: metadata %q has non-scalar value of type %T", ErrInvalidArgument, key, v)
	}
}
