package ingestion

import (
	"fmt"
	"maps"
	"unicode/utf8"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// ChunkID builds the id of one chunk. Ids are unique within a run because
// (docIndex, chunkIndex) pairs are; runTS partitions runs.
//
//	1718000000_doc_0_chunk_2
func ChunkID(runTS int64, docIndex, chunkIndex int) string {
	return fmt.Sprintf("%d_doc_%d_chunk_%d", runTS, docIndex, chunkIndex)
}

// MergeWithOverride returns a new map holding base updated by overrides.
// On a key collision the override wins. Neither input is modified.
func MergeWithOverride(base, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overrides))
	maps.Copy(out, base)
	maps.Copy(out, overrides)
	return out
}

// AssignIdentity derives the id and stored metadata of one chunk: the
// document metadata plus the reserved "id" and "chunk_size" keys, which
// silently replace any caller values under the same names.
func AssignIdentity(runTS int64, docIndex, chunkIndex int, text string, metadata map[string]any) (string, map[string]any, error) {
	if metadata == nil {
		return "", nil, fmt.Errorf("ingestion: %w: document %d", rag.ErrMissingMetadata, docIndex)
	}
	id := ChunkID(runTS, docIndex, chunkIndex)
	meta := MergeWithOverride(metadata, map[string]any{
		rag.MetaID:        id,
		rag.MetaChunkSize: utf8.RuneCountInString(text),
	})
	return id, meta, nil
}
