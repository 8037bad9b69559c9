package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragvec-go/internal/rag"
	"github.com/54b3r/ragvec-go/internal/search"
)

// fakeSearcher is a test double for SearchService. It records the last call
// and rejects non-positive n the way the real searcher does.
type fakeSearcher struct {
	query string
	n     int
	res   *search.Result
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, query string, n int) (*search.Result, error) {
	f.query, f.n = query, n
	if n <= 0 {
		return nil, fmt.Errorf("search: %w: n_results must be positive, got %d", rag.ErrInvalidArgument, n)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.res == nil {
		return &search.Result{IDs: []string{}, Documents: []string{}, Metadatas: []map[string]any{}, Distances: []float32{}}, nil
	}
	return f.res, nil
}

// fakeIngester is a test double for IngestService.
type fakeIngester struct {
	docs []rag.Document
	err  error
}

func (f *fakeIngester) AddDocuments(_ context.Context, docs []rag.Document) error {
	f.docs = docs
	return f.err
}

// newTestServer builds a minimal *Server for calling handlers directly.
func newTestServer() *Server {
	return &Server{cfg: &Config{}}
}

// newHandlerTestServer builds a fully wired Server on an isolated registry
// and returns its root handler.
func newHandlerTestServer(t *testing.T, s SearchService, i IngestService, cfg *Config) http.Handler {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	srv, err := New(s, i, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopRL)
	return srv.Handler()
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

func TestNew_RequiresSearcher(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil, &Config{}); err == nil {
		t.Fatal("expected error for nil searcher")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	s, err := New(&fakeSearcher{}, nil, &Config{MetricsRegistry: reg, MetricsGatherer: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.stopRL()

	if s.Addr() != "127.0.0.1:8080" {
		t.Errorf("addr: got %q", s.Addr())
	}
	if s.cfg.DefaultNResults != search.DefaultNResults {
		t.Errorf("default n_results: got %d", s.cfg.DefaultNResults)
	}
	if s.cfg.RateLimit != defaultRateLimit || s.cfg.RateBurst != defaultRateBurst {
		t.Errorf("rate limit defaults not applied: %v/%d", s.cfg.RateLimit, s.cfg.RateBurst)
	}
	if s.cfg.IngestRate != defaultIngestRate || s.cfg.IngestBurst != defaultIngestBurst {
		t.Errorf("ingest limit defaults not applied: %v/%d", s.cfg.IngestRate, s.cfg.IngestBurst)
	}
}

func TestNew_RejectsSearchKeyWithoutFullKey(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	_, err := New(&fakeSearcher{}, nil, &Config{SearchAPIKey: "reader", MetricsRegistry: reg, MetricsGatherer: reg})
	if err == nil {
		t.Fatal("expected error for a search key without a full key")
	}
}

// ---------------------------------------------------------------------------
// POST /api/documents
// ---------------------------------------------------------------------------

func TestHandleDocuments_Array(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	h := newHandlerTestServer(t, &fakeSearcher{}, ing, nil)

	w := do(h, http.MethodPost, "/api/documents",
		`[{"content":"alpha","metadata":{"source":"a.txt","page":1}},{"content":"","metadata":null}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Documents != 2 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(ing.docs) != 2 {
		t.Fatalf("ingester got %d docs, want 2", len(ing.docs))
	}
	if ing.docs[0].Content != "alpha" || ing.docs[0].Metadata["source"] != "a.txt" {
		t.Errorf("doc 0 not decoded: %+v", ing.docs[0])
	}
	if ing.docs[1].Metadata != nil {
		t.Errorf("null metadata should stay nil, got %v", ing.docs[1].Metadata)
	}
}

func TestHandleDocuments_Envelope(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	h := newHandlerTestServer(t, &fakeSearcher{}, ing, nil)

	w := do(h, http.MethodPost, "/api/documents", `{"documents":[{"content":"x","metadata":{"k":"v"}}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(ing.docs) != 1 || ing.docs[0].Content != "x" {
		t.Errorf("unexpected docs: %+v", ing.docs)
	}
}

func TestHandleDocuments_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `[{`},
		{"empty body", ``},
		{"empty array", `[]`},
		{"empty envelope", `{}`},
		{"metadata not an object", `[{"content":"x","metadata":"nope"}]`},
		{"not an array", `"text"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ing := &fakeIngester{}
			h := newHandlerTestServer(t, &fakeSearcher{}, ing, nil)

			w := do(h, http.MethodPost, "/api/documents", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if ing.docs != nil {
				t.Error("ingester must not be called for a rejected body")
			}
		})
	}
}

func TestHandleDocuments_IngestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing metadata", fmt.Errorf("ingestion: %w: document 0", rag.ErrMissingMetadata), http.StatusBadRequest},
		{"embedding", fmt.Errorf("ingestion: %w: dial tcp 10.0.0.1:11434", rag.ErrEmbedding), http.StatusBadGateway},
		{"store", fmt.Errorf("ingestion: %w: disk full", rag.ErrStore), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHandlerTestServer(t, &fakeSearcher{}, &fakeIngester{err: tt.err}, nil)

			w := do(h, http.MethodPost, "/api/documents", `[{"content":"x","metadata":{"k":1}}]`)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			msg := decodeError(t, w)
			if tt.want >= http.StatusInternalServerError && strings.Contains(msg, tt.err.Error()) {
				t.Errorf("5xx body leaked the underlying error: %q", msg)
			}
		})
	}
}

func TestHandleDocuments_ReadOnly(t *testing.T) {
	t.Parallel()

	h := newHandlerTestServer(t, &fakeSearcher{}, nil, nil)
	w := do(h, http.MethodPost, "/api/documents", `[{"content":"x","metadata":{"k":1}}]`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestHandleDocuments_BodyTooLarge(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	h := newHandlerTestServer(t, &fakeSearcher{}, ing, &Config{MaxBodyBytes: 16})
	w := do(h, http.MethodPost, "/api/documents", `[{"content":"this body is longer than sixteen bytes","metadata":{}}]`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
	if ing.docs != nil {
		t.Error("ingester must not be called")
	}
}

// ---------------------------------------------------------------------------
// POST /api/search
// ---------------------------------------------------------------------------

func TestHandleSearch_DefaultN(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{}
	h := newHandlerTestServer(t, s, nil, nil)

	w := do(h, http.MethodPost, "/api/search", `{"query":"what is a vector"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s.n != search.DefaultNResults {
		t.Errorf("n: got %d, want %d", s.n, search.DefaultNResults)
	}
	if s.query != "what is a vector" {
		t.Errorf("query: got %q", s.query)
	}
}

func TestHandleSearch_ConfiguredDefaultN(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{}
	h := newHandlerTestServer(t, s, nil, &Config{DefaultNResults: 9})
	if w := do(h, http.MethodPost, "/api/search", `{"query":"q"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if s.n != 9 {
		t.Errorf("n: got %d, want 9", s.n)
	}
}

func TestHandleSearch_Result(t *testing.T) {
	t.Parallel()

	s := &fakeSearcher{res: &search.Result{
		IDs:       []string{"1718000000_doc_0_chunk_0", "1718000000_doc_1_chunk_0"},
		Documents: []string{"near", "far"},
		Metadatas: []map[string]any{{"id": "1718000000_doc_0_chunk_0"}, {"id": "1718000000_doc_1_chunk_0"}},
		Distances: []float32{0.1, 0.4},
	}}
	h := newHandlerTestServer(t, s, nil, nil)

	w := do(h, http.MethodPost, "/api/search", `{"query":"q","n_results":2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s.n != 2 {
		t.Errorf("n: got %d, want 2", s.n)
	}

	var body struct {
		Query     string           `json:"query"`
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
		Distances []float32        `json:"distances"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Query != "q" {
		t.Errorf("query echo: got %q", body.Query)
	}
	if len(body.IDs) != 2 || body.IDs[0] != "1718000000_doc_0_chunk_0" {
		t.Errorf("ids: got %v", body.IDs)
	}
	if len(body.Documents) != 2 || len(body.Metadatas) != 2 || len(body.Distances) != 2 {
		t.Errorf("fields not aligned: %+v", body)
	}
	if body.Distances[0] > body.Distances[1] {
		t.Errorf("distances not ascending: %v", body.Distances)
	}
}

func TestHandleSearch_MinScore(t *testing.T) {
	t.Parallel()

	newSearcher := func() *fakeSearcher {
		return &fakeSearcher{res: &search.Result{
			IDs:       []string{"a", "b", "c"},
			Documents: []string{"near", "mid", "far"},
			Metadatas: []map[string]any{{"name": "a"}, {"name": "b"}, {"name": "c"}},
			Distances: []float32{0.1, 0.5, 0.9},
		}}
	}

	tests := []struct {
		name    string
		cfg     *Config
		body    string
		wantIDs []string
	}{
		{"no threshold", nil, `{"query":"q"}`, []string{"a", "b", "c"}},
		{"cosine threshold", nil, `{"query":"q","min_score":0.4}`, []string{"a", "b"}},
		{"l2 threshold", &Config{Score: search.L2Score}, `{"query":"q","min_score":0.6}`, []string{"a", "b"}},
		{"nothing passes", nil, `{"query":"q","min_score":2}`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHandlerTestServer(t, newSearcher(), nil, tt.cfg)
			w := do(h, http.MethodPost, "/api/search", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}

			var body struct {
				IDs       []string         `json:"ids"`
				Metadatas []map[string]any `json:"metadatas"`
				Scores    []float64        `json:"scores"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if strings.Join(body.IDs, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids: got %v, want %v", body.IDs, tt.wantIDs)
			}
			if len(body.Scores) != len(body.IDs) {
				t.Fatalf("scores not aligned: %v", body.Scores)
			}
			for i := 1; i < len(body.Scores); i++ {
				if body.Scores[i] > body.Scores[i-1] {
					t.Errorf("scores not descending: %v", body.Scores)
				}
			}
			for _, m := range body.Metadatas {
				if _, ok := m[search.MetaKeyDistance]; ok {
					t.Errorf("internal distance key leaked into metadata: %v", m)
				}
				if _, ok := m["_score"]; ok {
					t.Errorf("internal score key leaked into metadata: %v", m)
				}
			}
		})
	}
}

func TestHandleSearch_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"query":`},
		{"missing query", `{"n_results":3}`},
		{"blank query", `{"query":"   "}`},
		{"zero n_results", `{"query":"q","n_results":0}`},
		{"negative n_results", `{"query":"q","n_results":-2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHandlerTestServer(t, &fakeSearcher{}, nil, nil)
			w := do(h, http.MethodPost, "/api/search", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if decodeError(t, w) == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestHandleSearch_UpstreamFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"embedding", fmt.Errorf("search: %w: api-key rejected", rag.ErrEmbedding), "embedding service failed"},
		{"store", fmt.Errorf("search: %w: database is locked", rag.ErrStore), "vector store failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHandlerTestServer(t, &fakeSearcher{err: tt.err}, nil, nil)
			w := do(h, http.MethodPost, "/api/search", `{"query":"q"}`)
			if w.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", w.Code)
			}
			if got := decodeError(t, w); got != tt.msg {
				t.Errorf("message: got %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestRoutes_AuthProtectsAPI(t *testing.T) {
	t.Parallel()

	h := newHandlerTestServer(t, &fakeSearcher{}, &fakeIngester{}, &Config{APIKey: "secret"})

	if w := do(h, http.MethodPost, "/api/search", `{"query":"q"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("search without token: expected 401, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/documents", `[]`); w.Code != http.StatusUnauthorized {
		t.Errorf("documents without token: expected 401, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/search", `{"query":"q"}`, "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("search with token: expected 200, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/ready", ""); w.Code != http.StatusOK {
		t.Errorf("ready must stay open, got %d", w.Code)
	}
}

func TestRoutes_SearchKeyCannotIngest(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{}
	h := newHandlerTestServer(t, &fakeSearcher{}, ing, &Config{APIKey: "admin", SearchAPIKey: "reader"})
	body := `[{"content":"x","metadata":{"k":1}}]`

	if w := do(h, http.MethodPost, "/api/search", `{"query":"q"}`, "Authorization", "Bearer reader"); w.Code != http.StatusOK {
		t.Errorf("search with search key: expected 200, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/documents", body, "Authorization", "Bearer reader"); w.Code != http.StatusForbidden {
		t.Errorf("documents with search key: expected 403, got %d", w.Code)
	}
	if ing.docs != nil {
		t.Error("forbidden batch must not reach the ingester")
	}
	if w := do(h, http.MethodPost, "/api/documents", body, "Authorization", "Bearer admin"); w.Code != http.StatusOK {
		t.Errorf("documents with full key: expected 200, got %d", w.Code)
	}
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	h := newHandlerTestServer(t, &fakeSearcher{}, nil, nil)
	if w := do(h, http.MethodGet, "/api/search", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", rag.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("x: %w", rag.ErrMissingMetadata), http.StatusBadRequest},
		{fmt.Errorf("x: %w", rag.ErrEmbedding), http.StatusBadGateway},
		{fmt.Errorf("x: %w", rag.ErrStore), http.StatusBadGateway},
		{fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
