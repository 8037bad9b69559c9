package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// knownChatModelPrefixes contains name fragments that identify chat/completion
// models which are NOT suitable for embedding. If EMBEDDING_MODEL matches any
// of these, a warning is emitted so the operator knows they may have
// misconfigured the pipeline.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"llama-2",
	"mistral",
	"mixtral",
	"gemma",
	"gemini-",
	"phi-",
	"phi3",
	"claude",
	"command-r",
	"deepseek",
	"qwen",
	"solar",
	"vicuna",
	"falcon",
	"yi-",
}

// looksLikeChatModel returns true when the model name resembles a known
// chat/completion model rather than a dedicated embedding model.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	if strings.Contains(lower, "embed") || strings.Contains(lower, "minilm") {
		return false
	}
	for _, prefix := range knownChatModelPrefixes {
		if strings.Contains(lower, prefix) {
			return true
		}
	}
	return false
}

// Validate checks the embedder configuration before anything is built. It
// returns an error when the configuration is clearly broken (e.g. azure with
// no API key, or an unknown provider) and logs a warning if EMBEDDING_MODEL
// looks like a chat model rather than an embedding model.
//
// Call it before constructing the embedder or the vector store so operators
// get a clear error at startup rather than a cryptic failure during the
// first embed call.
func Validate(log *slog.Logger) error {
	backend := Backend()

	switch backend {
	case BackendOllama, BackendHash:
		// No credentials needed.

	case BackendOpenAI:
		if firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no OpenAI API key found; set OPENAI_API_KEY or EMBEDDING_API_KEY")
		}

	case BackendAzure:
		if firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY") == "" {
			return fmt.Errorf("embedder: no Azure API key found; set AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT") == "" {
			return fmt.Errorf("embedder: no Azure endpoint found; set AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}

	case BackendGemini:
		if firstEnv("EMBEDDING_API_KEY", "GOOGLE_API_KEY") == "" {
			return fmt.Errorf("embedder: no Gemini API key found; set GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}

	default:
		return fmt.Errorf("embedder: unknown EMBEDDING_PROVIDER %q; set it to ollama, openai, azure, gemini or hash", backend)
	}

	if backend == BackendHash {
		log.Warn("embedder: using the offline hash embedder; results reflect word overlap only",
			slog.Int("dimensions", DefaultDimensions(backend)),
		)
	}

	model := getEnv("EMBEDDING_MODEL")
	if model != "" && looksLikeChatModel(model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model; "+
			"this will likely produce poor or broken embeddings",
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. all-minilm, text-embedding-3-small"),
		)
	}

	return nil
}
