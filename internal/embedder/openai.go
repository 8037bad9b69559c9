package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/54b3r/ragvec-go/internal/budget"
)

// OpenAIEmbedder implements rag.Embedder using the OpenAI (or Azure OpenAI)
// embeddings REST API. It is safe for concurrent use.
type OpenAIEmbedder struct {
	// endpoint is the fully resolved embeddings URL.
	endpoint string
	// headers carries the auth header for the selected mode.
	headers map[string]string
	// model is the embedding model name (e.g. "text-embedding-3-small").
	model string
	// dimensions is the desired embedding vector length (0 = model default).
	dimensions int
	// maxTokens and maxItems bound each HTTP request; larger batches are split.
	maxTokens, maxItems int
	// client is the shared HTTP client.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name, or the deployment name on Azure.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version (e.g. "2025-04-01-preview").
	// Ignored when Azure is false.
	APIVersion string
	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
	// MaxRequestTokens caps the estimated input tokens per request
	// (default: budget.DefaultMaxRequestTokens).
	MaxRequestTokens int
	// MaxRequestItems caps the inputs per request
	// (default: budget.DefaultMaxRequestItems).
	MaxRequestItems int
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from the given config.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	e := &OpenAIEmbedder{
		endpoint:   base + "/embeddings",
		headers:    map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxTokens:  cfg.MaxRequestTokens,
		maxItems:   cfg.MaxRequestItems,
		client:     client,
	}
	if e.maxTokens == 0 {
		e.maxTokens = budget.DefaultMaxRequestTokens
	}
	if e.maxItems == 0 {
		e.maxItems = budget.DefaultMaxRequestItems
	}
	if cfg.Azure {
		e.endpoint = base + "/deployments/" + url.PathEscape(cfg.Model) +
			"/embeddings?api-version=" + url.QueryEscape(cfg.APIVersion)
		e.headers = map[string]string{"api-key": cfg.APIKey}
	}
	return e
}

// openaiEmbedRequest is the JSON body sent to the embeddings endpoint.
type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openaiEmbedResponse is the JSON body returned from the embeddings endpoint.
type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func openaiErrorMessage(body []byte) string {
	var e struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil || e.Error == nil {
		return ""
	}
	return e.Error.Message
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice. Batches over the
// request budget are sent as several consecutive requests.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, span := range budget.Split(texts, e.maxTokens, e.maxItems) {
		part, err := e.embedRequest(ctx, texts[span.Start:span.End])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, part...)
	}
	return embeddings, nil
}

// embedRequest sends one embeddings request.
func (e *OpenAIEmbedder) embedRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body := openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions}
	var result openaiEmbedResponse
	if err := postJSON(ctx, e.client, e.endpoint, e.headers, body, &result, openaiErrorMessage); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order; place by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		if embeddings[d.Index] != nil {
			return nil, fmt.Errorf("openai embedder: duplicate index %d", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}
