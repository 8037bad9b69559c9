package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragvec-go/internal/chunker"
	"github.com/54b3r/ragvec-go/internal/ingestion"
	"github.com/54b3r/ragvec-go/internal/logging"
	"github.com/54b3r/ragvec-go/internal/rag"
)

// NewIngestCmd constructs the `ragvec ingest` command, which chunks, embeds
// and stores documents read from a file or directory.
func NewIngestCmd() *cobra.Command {
	var path string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and store documents in the vector store",
		Long: `Load documents from a file or directory, split them into overlapping
chunks, embed every chunk and write it to the configured vector store.

The vector store is reset before ingestion: every run starts from an empty
collection.

Accepted inputs:
  directory        every .txt and .md file, sorted by name
  .json            array of {"content": "...", "metadata": {...}}
  .jsonl           one such object per line
  .yaml / .yml     list of {content, metadata} mappings
  any other file   one plain-text document

Relevant environment variables:
  EMBEDDING_PROVIDER   ollama, openai, azure, gemini or hash (default: ollama)
  VECTOR_STORE         memory, sqlite, qdrant or pgvector (default: sqlite)
  COLLECTION_NAME      collection to write to (default: rag_documents)
  CHUNK_SIZE           maximum characters per chunk (default: 500)

Examples:
  ragvec ingest --path ./docs
  ragvec ingest --path corpus.jsonl --chunk-size 800
  EMBEDDING_PROVIDER=hash VECTOR_STORE=memory ragvec ingest --path notes.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if path == "" {
				return fmt.Errorf("ingest: --path is required")
			}
			if !cmd.Flags().Changed("chunk-size") {
				chunkSize = getEnvInt("CHUNK_SIZE", chunker.DefaultChunkSize)
			}

			emb, err := buildEmbedder(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			st, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeStore(st, log)

			n, err := ingestPath(ctx, log, emb, st, path, chunkSize, cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d documents from %s\n", n, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "File or directory of documents to ingest (required)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", chunker.DefaultChunkSize, "Maximum characters per chunk (overrides CHUNK_SIZE)")

	return cmd
}

// ingestPath loads the documents at path and runs them through a fresh
// pipeline, which resets st first. Progress lines go to progress.
// It returns the number of documents loaded.
func ingestPath(ctx context.Context, log *slog.Logger, emb rag.Embedder, st rag.Store, path string, chunkSize int, progress io.Writer) (int, error) {
	docs, err := ingestion.LoadDocuments(path)
	if err != nil {
		return 0, err
	}
	log.Info("documents loaded", slog.String("path", path), slog.Int("documents", len(docs)))

	pipeline, err := ingestion.NewPipeline(ctx, emb, st, &ingestion.Config{
		ChunkSize: chunkSize,
		Logger:    log,
		Progress: func(msg string) {
			fmt.Fprintln(progress, msg)
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create pipeline: %w", err)
	}

	if err := pipeline.AddDocuments(ctx, docs); err != nil {
		return 0, err
	}
	log.Info("ingestion complete", slog.Int("documents", len(docs)))
	return len(docs), nil
}
