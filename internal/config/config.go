// Package config provides file-based configuration for ragvec.
// Configuration is loaded with a layered precedence:
// defaults → config file → .env file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAGVEC_CONFIG environment variable
//  3. ~/.ragvec/config.yaml, then ~/.ragvec/config.toml
//  4. ./ragvec.yaml, then ./ragvec.toml
//
// Files ending in .toml are parsed as TOML; anything else as YAML. If no file
// is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
// Field names use tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding" toml:"embedding"`

	// Store configures the vector store backend.
	Store StoreConfig `yaml:"store" toml:"store"`

	// Ingest configures the ingestion pipeline.
	Ingest IngestConfig `yaml:"ingest" toml:"ingest"`

	// Search configures the query pipeline.
	Search SearchConfig `yaml:"search" toml:"search"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server" toml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini, hash).
	Provider string `yaml:"provider" toml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model" toml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions" toml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama" toml:"ollama"`
	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai" toml:"openai"`
	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure" toml:"azure"`
	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini" toml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host" toml:"host"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version" toml:"api_version"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	// Backend selects the store: memory, sqlite, qdrant, pgvector.
	Backend string `yaml:"backend" toml:"backend"`
	// Collection is the collection name shared by every backend.
	Collection string `yaml:"collection" toml:"collection"`
	// Path is the SQLite database file.
	Path string `yaml:"path" toml:"path"`
	// Distance is the metric for the memory and sqlite backends: cosine, l2.
	Distance string `yaml:"distance" toml:"distance"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant" toml:"qdrant"`
	// PgVector holds PostgreSQL connection settings.
	PgVector PgVectorConfig `yaml:"pgvector" toml:"pgvector"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host" toml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port" toml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls" toml:"tls"`
}

// PgVectorConfig holds pgvector settings.
type PgVectorConfig struct {
	// DSN is the PostgreSQL connection string. Prefer env var PGVECTOR_DSN.
	DSN string `yaml:"dsn" toml:"dsn"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int `yaml:"chunk_size" toml:"chunk_size"`
}

// SearchConfig holds query pipeline settings.
type SearchConfig struct {
	// NResults is the default number of results per query.
	NResults int `yaml:"n_results" toml:"n_results"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host" toml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port" toml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var RAGVEC_API_KEY.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// SearchAPIKey is a Bearer token limited to search. Prefer env var RAGVEC_SEARCH_API_KEY.
	SearchAPIKey string `yaml:"search_api_key" toml:"search_api_key"`
	// IngestBurst caps the documents per ingest request and per-client burst.
	IngestBurst int `yaml:"ingest_burst" toml:"ingest_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" toml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format" toml:"format"`
}

// envMapping maps config fields to their corresponding env var names.
// Only non-empty values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.Ollama.Host }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Embedding.OpenAI.APIKey }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Embedding.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Embedding.Azure.Endpoint }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.Azure.APIVersion }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Embedding.Gemini.APIKey }},
	{"VECTOR_STORE", func(c *Config) string { return c.Store.Backend }},
	{"COLLECTION_NAME", func(c *Config) string { return c.Store.Collection }},
	{"VECTOR_DB_PATH", func(c *Config) string { return c.Store.Path }},
	{"VECTOR_DISTANCE", func(c *Config) string { return c.Store.Distance }},
	{"QDRANT_HOST", func(c *Config) string { return c.Store.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Store.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Store.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Store.Qdrant.TLS) }},
	{"PGVECTOR_DSN", func(c *Config) string { return c.Store.PgVector.DSN }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingest.ChunkSize) }},
	{"SEARCH_N_RESULTS", func(c *Config) string { return intStr(c.Search.NResults) }},
	{"RAGVEC_HOST", func(c *Config) string { return c.Server.Host }},
	{"RAGVEC_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"RAGVEC_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"RAGVEC_SEARCH_API_KEY", func(c *Config) string { return c.Server.SearchAPIKey }},
	{"RAGVEC_INGEST_BURST", func(c *Config) string { return intStr(c.Server.IngestBurst) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load applies a .env file from the working directory and then a config
// file, projecting non-empty values onto environment variables. Existing env
// vars are never overwritten (env always wins), and .env values are applied
// before the config file so they take precedence over it.
// Returns the config file path that was loaded, or empty string if none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := loadDotEnv(".env", log); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no config file found, using env vars only")
		return "", nil
	}

	cfg, err := Parse(path)
	if err != nil {
		return "", err
	}

	applied := 0
	for _, m := range envMapping {
		val := m.value(cfg)
		if val == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set; do not override
		}
		if err := os.Setenv(m.envKey, val); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded config file",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// Parse reads and decodes the config file at path. The format is chosen by
// extension: .toml is TOML, anything else YAML.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// loadDotEnv applies path with godotenv if it exists. godotenv never
// overrides variables that are already set.
func loadDotEnv(path string, log *slog.Logger) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAGVEC_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".ragvec", "config.yaml"),
			filepath.Join(home, ".ragvec", "config.toml"),
		)
	}
	candidates = append(candidates, "ragvec.yaml", "ragvec.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
