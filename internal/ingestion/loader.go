package ingestion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// textExtensions lists the file extensions read from a directory source.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// LoadDocuments reads a batch of documents from path.
//
// Supported sources:
//
//	directory      every .txt/.md file, in lexical order, one document each
//	*.json         array of {"content": ..., "metadata": {...}}
//	*.jsonl        one such object per line
//	*.yaml, *.yml  list of {content, metadata}
//	anything else  the whole file as a single document
//
// Plain-text documents get {"name": <file name>, "source": <path>} metadata.
func LoadDocuments(path string) ([]rag.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load %s: %w", path, err)
	}
	if info.IsDir() {
		return loadDir(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSONDocuments(data)
	case ".jsonl", ".ndjson":
		return parseJSONLines(data)
	case ".yaml", ".yml":
		return parseYAMLDocuments(data)
	default:
		return []rag.Document{textDocument(path, data)}, nil
	}
}

// loadDir reads every text file directly under dir. os.ReadDir returns
// entries sorted by name, which fixes each document's doc_index.
func loadDir(dir string) ([]rag.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read dir %s: %w", dir, err)
	}

	var docs []rag.Document
	for _, e := range entries {
		if !e.Type().IsRegular() || !textExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		p := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("ingestion: read %s: %w", p, err)
		}
		docs = append(docs, textDocument(p, data))
	}
	return docs, nil
}

func textDocument(path string, data []byte) rag.Document {
	return rag.Document{
		Content: string(data),
		Metadata: map[string]any{
			"name":   filepath.Base(path),
			"source": path,
		},
	}
}

// jsonDocument is the wire shape of one document. Metadata stays raw so that
// absent, null and non-object values can be told apart.
type jsonDocument struct {
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
}

// ParseJSONDocuments decodes a JSON array of documents. A missing or null
// metadata field yields a nil map (reported later as missing metadata); a
// metadata field that is not an object is rejected with rag.ErrInvalidArgument.
func ParseJSONDocuments(data []byte) ([]rag.Document, error) {
	var raw []jsonDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ingestion: %w: decode documents: %w", rag.ErrInvalidArgument, err)
	}
	docs := make([]rag.Document, 0, len(raw))
	for i, r := range raw {
		doc, err := r.document(i)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// parseJSONLines decodes one document object per non-blank line.
func parseJSONLines(data []byte) ([]rag.Document, error) {
	var docs []rag.Document
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var r jsonDocument
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, fmt.Errorf("ingestion: %w: line %d: %w", rag.ErrInvalidArgument, line, err)
		}
		doc, err := r.document(len(docs))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: scan jsonl: %w", err)
	}
	return docs, nil
}

func (r jsonDocument) document(index int) (rag.Document, error) {
	doc := rag.Document{Content: r.Content}
	meta := bytes.TrimSpace(r.Metadata)
	if len(meta) == 0 || bytes.Equal(meta, []byte("null")) {
		return doc, nil
	}
	if meta[0] != '{' {
		return rag.Document{}, fmt.Errorf("ingestion: %w: document %d: metadata must be an object", rag.ErrInvalidArgument, index)
	}
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return rag.Document{}, fmt.Errorf("ingestion: %w: document %d: metadata: %w", rag.ErrInvalidArgument, index, err)
	}
	return doc, nil
}

// yamlDocument is the YAML shape of one document.
type yamlDocument struct {
	Content  string    `yaml:"content"`
	Metadata yaml.Node `yaml:"metadata"`
}

func parseYAMLDocuments(data []byte) ([]rag.Document, error) {
	var raw []yamlDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ingestion: %w: decode yaml documents: %w", rag.ErrInvalidArgument, err)
	}
	docs := make([]rag.Document, 0, len(raw))
	for i, r := range raw {
		doc := rag.Document{Content: r.Content}
		switch {
		case r.Metadata.Kind == 0, r.Metadata.Kind == yaml.ScalarNode && r.Metadata.Tag == "!!null":
			// absent or null: left nil
		case r.Metadata.Kind == yaml.MappingNode:
			if err := r.Metadata.Decode(&doc.Metadata); err != nil {
				return nil, fmt.Errorf("ingestion: %w: document %d: metadata: %w", rag.ErrInvalidArgument, i, err)
			}
		default:
			return nil, fmt.Errorf("ingestion: %w: document %d: metadata must be a mapping", rag.ErrInvalidArgument, i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
