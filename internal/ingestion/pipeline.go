// Package ingestion implements the document ingestion pipeline. Each
// document is chunked, its chunks are embedded in one batch, every chunk is
// given a run-scoped id and augmented metadata, and the batch is written to
// the vector store in one call.
// This pipeline is invoked by the `ragvec ingest` command and POST /api/documents.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/54b3r/ragvec-go/internal/chunker"
	"github.com/54b3r/ragvec-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the target number of characters per chunk.
	// Defaults to chunker.DefaultChunkSize if zero; negative values are rejected.
	ChunkSize int

	// Clock returns the current time; the run timestamp is read from it once
	// per AddDocuments call. Defaults to time.Now. A clock that has not
	// advanced past the previous call's second is bumped forward by one.
	Clock func() time.Time

	// Logger receives progress and lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records ingestion counters. Nil disables metrics.
	Metrics *Metrics

	// Progress, if set, is called with a human-readable line per document.
	Progress func(msg string)
}

// Pipeline orchestrates the chunk → embed → identify → write flow for a
// batch of documents. Apart from run timestamp allocation it adds no locking
// of its own; concurrent use is only as safe as the embedder and store it
// wraps.
type Pipeline struct {
	// embedder converts chunk texts into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.Store

	// splitter cuts document content into chunks.
	splitter *chunker.Splitter

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// log is the structured logger for this pipeline.
	log *slog.Logger

	// mu guards lastRunTS.
	mu sync.Mutex
	// lastRunTS is the timestamp handed to the previous AddDocuments call.
	lastRunTS int64
}

// NewPipeline constructs a Pipeline and resets the store: every pipeline
// starts from an empty collection, so a run never mixes data with a
// previous process lifetime.
func NewPipeline(ctx context.Context, embedder rag.Embedder, store rag.Store, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Progress == nil {
		cfg.Progress = func(string) {}
	}

	splitter, err := chunker.New(cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	p := &Pipeline{
		embedder: embedder,
		store:    store,
		splitter: splitter,
		cfg:      cfg,
		log:      cfg.Logger,
	}
	if err := p.resetStorage(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// resetStorage discards everything the store holds and recreates an empty
// collection. It is destructive and runs once per pipeline.
func (p *Pipeline) resetStorage(ctx context.Context) error {
	if err := p.store.Reset(ctx); err != nil {
		return fmt.Errorf("ingestion: %w: reset: %w", rag.ErrStore, err)
	}
	p.log.Info("vector store reset", slog.Int("chunk_size", p.cfg.ChunkSize))
	return nil
}

// AddDocuments ingests docs in order. Document i gets doc_index i; all
// chunks share one run timestamp captured at the start of the call. Every
// call on a pipeline gets a strictly greater timestamp than the one before,
// so batches added within the same second never reuse an id.
//
// The batch is validated up front: a document with content but no metadata
// fails the whole call with rag.ErrMissingMetadata, and non-scalar metadata
// values fail it with rag.ErrInvalidArgument, before anything is embedded or
// written. After validation, documents are written one at a time; a failure
// on document k returns immediately and leaves documents before k in the store.
func (p *Pipeline) AddDocuments(ctx context.Context, docs []rag.Document) error {
	if err := validateDocuments(docs); err != nil {
		return err
	}

	runTS := p.nextRunTS()
	p.log.Info("processing documents",
		slog.Int("documents", len(docs)),
		slog.Int64("run_ts", runTS),
	)

	total := 0
	for i, doc := range docs {
		n, err := p.addDocument(ctx, runTS, i, doc)
		if err != nil {
			p.cfg.Metrics.document(outcomeFailed)
			p.log.Error("document ingestion failed",
				slog.Int("doc_index", i),
				slog.Any("error", err),
			)
			return err
		}
		total += n
	}

	p.log.Info("documents added to vector store",
		slog.Int("documents", len(docs)),
		slog.Int("chunks", total),
		slog.Int64("run_ts", runTS),
	)
	return nil
}

// nextRunTS returns the clock's Unix second, or one past the previous run's
// timestamp if the clock has not moved beyond it.
func (p *Pipeline) nextRunTS() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	ts := max(p.cfg.Clock().Unix(), p.lastRunTS+1)
	p.lastRunTS = ts
	return ts
}

// addDocument runs one document through chunk → embed → identify → write
// and returns the number of chunks written.
func (p *Pipeline) addDocument(ctx context.Context, runTS int64, docIndex int, doc rag.Document) (int, error) {
	if doc.Content == "" {
		p.cfg.Metrics.document(outcomeSkipped)
		p.log.Debug("skipping document without content", slog.Int("doc_index", docIndex))
		return 0, nil
	}

	chunks := p.splitter.Split(doc.Content)
	if len(chunks) == 0 {
		p.cfg.Metrics.document(outcomeSkipped)
		p.log.Debug("document produced no chunks", slog.Int("doc_index", docIndex))
		return 0, nil
	}

	start := time.Now()
	embeddings, err := p.embedder.Embed(ctx, chunks)
	p.cfg.Metrics.observeEmbed(time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("ingestion: %w: document %d: %w", rag.ErrEmbedding, docIndex, err)
	}
	if len(embeddings) != len(chunks) {
		return 0, fmt.Errorf("ingestion: %w: document %d: expected %d embeddings, got %d",
			rag.ErrEmbedding, docIndex, len(chunks), len(embeddings))
	}

	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for j, text := range chunks {
		id, meta, err := AssignIdentity(runTS, docIndex, j, text, doc.Metadata)
		if err != nil {
			return 0, err
		}
		ids[j] = id
		metadatas[j] = meta
	}

	name := documentName(doc.Metadata)
	p.log.Info("processing document",
		slog.Int("doc_index", docIndex),
		slog.String("name", name),
		slog.Int("chunks", len(chunks)),
	)
	p.cfg.Progress(fmt.Sprintf("Processing %d. %s total chunks: %d", docIndex+1, name, len(chunks)))

	start = time.Now()
	err = p.store.Add(ctx, ids, embeddings, chunks, metadatas)
	p.cfg.Metrics.observeWrite(time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("ingestion: %w: document %d: %w", rag.ErrStore, docIndex, err)
	}

	p.cfg.Metrics.document(outcomeIngested)
	p.cfg.Metrics.chunks(len(chunks))
	return len(chunks), nil
}

// validateDocuments rejects the batch if any document with content lacks
// metadata or carries a metadata value a store cannot persist.
func validateDocuments(docs []rag.Document) error {
	for i, doc := range docs {
		if doc.Content == "" {
			continue
		}
		if doc.Metadata == nil {
			return fmt.Errorf("ingestion: %w: document %d has content but no metadata", rag.ErrMissingMetadata, i)
		}
		for _, k := range slices.Sorted(maps.Keys(doc.Metadata)) {
			if err := rag.ValidateMetadataValue(k, doc.Metadata[k]); err != nil {
				return fmt.Errorf("ingestion: document %d: %w", i, err)
			}
		}
	}
	return nil
}

// documentName returns the "name" metadata value for progress output.
func documentName(meta map[string]any) string {
	if v, ok := meta["name"]; ok {
		return fmt.Sprint(v)
	}
	return ""
}
