package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/54b3r/ragvec-go/internal/budget"
)

// geminiMaxRequestItems is the batchEmbedContents input limit.
const geminiMaxRequestItems = 100

// GeminiEmbedder implements rag.Embedder with the Gemini API embedContent
// call. It is safe for concurrent use.
type GeminiEmbedder struct {
	// models is the genai models service used for embedding calls.
	models *genai.Models
	// model is the embedding model name (e.g. "text-embedding-004").
	model string
	// dimensions truncates output vectors when positive.
	dimensions int
}

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	// APIKey is the Google AI Studio API key.
	APIKey string
	// Model is the embedding model name.
	Model string
	// Dimensions requests a reduced output dimensionality (0 = model default).
	Dimensions int
}

// NewGeminiEmbedder creates a genai client for the Gemini API backend.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{
		models:     client.Models,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed converts a batch of texts into their corresponding embeddings,
// one request per budget.Split span.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		d := int32(e.dimensions) //nolint:gosec // dimensions are bounded
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &d}
	}

	out := make([][]float32, 0, len(texts))
	for _, span := range budget.Split(texts, budget.DefaultMaxRequestTokens, geminiMaxRequestItems) {
		part, err := e.embedRequest(ctx, texts[span.Start:span.End], cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (e *GeminiEmbedder) embedRequest(ctx context.Context, texts []string, cfg *genai.EmbedContentConfig) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embedder: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini embedder: embedding %d is empty", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
