package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/ragvec-go/internal/logging"
)

// logCapture returns a JSON logger writing into a buffer and a function
// that decodes the last entry.
func logCapture(t *testing.T) (*slog.Logger, func() map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	return log, func() map[string]any {
		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		var entry map[string]any
		if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
			t.Fatalf("decode log entry: %v", err)
		}
		return entry
	}
}

func TestRequestLogger_GeneratesRequestID(t *testing.T) {
	t.Parallel()

	log, last := logCapture(t)
	var seen string
	h := requestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("inside")
		seen = last()["request_id"].(string)
		_, _ = w.Write([]byte("hello"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	id := w.Header().Get(requestIDHeader)
	if len(id) != 16 {
		t.Fatalf("expected a 16 character request id, got %q", id)
	}
	if seen != id {
		t.Errorf("handler logger carries %q, response header %q", seen, id)
	}

	entry := last()
	if entry["request_id"] != id {
		t.Errorf("completion entry request_id: got %v", entry["request_id"])
	}
	if entry["bytes"] != float64(5) {
		t.Errorf("bytes: got %v, want 5", entry["bytes"])
	}
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status: got %v", entry["status"])
	}
	if entry["client_ip"] != "192.0.2.1" {
		t.Errorf("client_ip: got %v", entry["client_ip"])
	}
}

func TestRequestLogger_InboundRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"well formed", "ingest-job_42.a", true},
		{"empty", "", false},
		{"contains spaces", "two words", false},
		{"log injection", "abc\nlevel=ERROR", false},
		{"too long", string(bytes.Repeat([]byte("a"), 65)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			log, last := logCapture(t)
			h := requestLogger(log, okHandler)
			req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
			if tt.inbound != "" {
				req.Header.Set(requestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(requestIDHeader)
			if tt.reuse && got != tt.inbound {
				t.Errorf("expected inbound id %q to be reused, got %q", tt.inbound, got)
			}
			if !tt.reuse && (got == tt.inbound || len(got) != 16) {
				t.Errorf("expected a generated id, got %q", got)
			}
			if last()["request_id"] != got {
				t.Errorf("log and header disagree")
			}
		})
	}
}

func TestRequestLogger_RecordsErrorStatus(t *testing.T) {
	t.Parallel()

	log, last := logCapture(t)
	h := requestLogger(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, r, http.StatusBadRequest, "query is required")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/search", nil))

	entry := last()
	if entry["status"] != float64(http.StatusBadRequest) {
		t.Errorf("status: got %v", entry["status"])
	}
	if entry["bytes"].(float64) == 0 {
		t.Error("error body size should be recorded")
	}
}
