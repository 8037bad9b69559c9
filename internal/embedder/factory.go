package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// Backend names accepted by EMBEDDING_PROVIDER.
const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendAzure  = "azure"
	BackendGemini = "gemini"
	BackendHash   = "hash"
)

// Default embedding models per backend.
const (
	// defaultOllamaModel is all-MiniLM-L6-v2 as packaged by Ollama.
	defaultOllamaModel = "all-minilm"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// Output dimensions of the default models. Other models may differ;
	// override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 384
	defaultOpenAIDimensions = 1536
	defaultGeminiDimensions = 768
)

// Backend returns the configured embedding backend (default: ollama).
func Backend() string {
	return strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", BackendOllama))
}

// DefaultDimensions returns the embedding vector size for the given backend.
// Callers that need to pre-configure a vector store (Qdrant collection
// creation, pgvector column width) should use this rather than hardcoding a
// value. EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case BackendOllama:
		return defaultOllamaDimensions
	case BackendGemini:
		return defaultGeminiDimensions
	case BackendHash:
		return DefaultHashDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder from environment variables.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER selects the backend (default: ollama)
//  2. Per-backend credentials come from the backend's own env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the backend API key
//  5. EMBEDDING_ENDPOINT overrides the backend endpoint
//  6. EMBEDDING_DIMENSIONS overrides the default dimensions
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()

	switch backend {
	case BackendOllama:
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case BackendOpenAI:
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
		}), nil

	case BackendAzure:
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case BackendGemini:
		apiKey := firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 0),
		})

	case BackendHash:
		return NewHashEmbedder(getEnvInt("EMBEDDING_DIMENSIONS", DefaultHashDimensions)), nil

	default:
		return nil, fmt.Errorf("embedder: %w: unknown backend %q (valid: ollama, openai, azure, gemini, hash)",
			rag.ErrInvalidArgument, backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
