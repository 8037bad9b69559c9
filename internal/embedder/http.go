// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Ollama and OpenAI (including
// Azure OpenAI) are spoken over plain HTTP, Gemini uses the genai SDK, and
// the hash embedder works offline.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of a non-2xx response body is read for the
// error message.
const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response from an embedding endpoint.
type StatusError struct {
	// StatusCode is the HTTP status returned by the server.
	StatusCode int
	// Message is the server-provided error message, or the raw body.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// postJSON sends body as JSON to url and decodes a 2xx response into out.
// On a non-2xx status, errMessage extracts the server message from the body;
// the result is returned as a *StatusError.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, errMessage func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := ""
		if errMessage != nil {
			msg = errMessage(raw)
		}
		if msg == "" {
			msg = string(bytes.TrimSpace(raw))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
