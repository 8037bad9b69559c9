package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/54b3r/ragvec-go/internal/rag"
)

// ---------------------------------------------------------------------------
// Fake Pinger for readiness tests
// ---------------------------------------------------------------------------

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// describingPinger is a healthy store double that also reports its collection.
type describingPinger struct {
	fakePinger
	info        rag.CollectionInfo
	describeErr error
}

func (d *describingPinger) Describe(_ context.Context) (rag.CollectionInfo, error) {
	return d.info, d.describeErr
}

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	s := newTestServer()
	s.pingers = pingers
	return s
}

// ---------------------------------------------------------------------------
// GET /api/health (liveness)
// ---------------------------------------------------------------------------

// TestHandleHealth_OK verifies that GET /api/health returns 200 with a JSON
// body containing {"status":"ok"}.
func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d body: %s", w.Code, w.Body.String())
	}

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected %q, got %q", "ok", body["status"])
	}
}

// ---------------------------------------------------------------------------
// GET /api/ready (readiness)
// ---------------------------------------------------------------------------

// TestHandleReady_NoPingers verifies that /api/ready returns 200 with
// ready:true and an empty checks array when no pingers are registered.
func TestHandleReady_NoPingers(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Errorf("expected ready:true with no pingers")
	}
	if len(resp.Checks) != 0 {
		t.Errorf("expected 0 checks, got %d", len(resp.Checks))
	}
}

// TestHandleReady_AllHealthy verifies that /api/ready returns 200 with
// ready:true when all pingers succeed.
func TestHandleReady_AllHealthy(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "ollama", err: nil},
		&fakePinger{name: "sqlite", err: nil},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Ready {
		t.Errorf("expected ready:true")
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(resp.Checks))
	}
	for _, c := range resp.Checks {
		if !c.OK {
			t.Errorf("check %q: expected ok:true", c.Name)
		}
		if c.Error != "" {
			t.Errorf("check %q: expected no error, got %q", c.Name, c.Error)
		}
	}
}

// TestHandleReady_OneFailing verifies that /api/ready returns 503 with
// ready:false when one pinger fails, and the failing check has ok:false
// with a non-empty error field.
func TestHandleReady_OneFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "ollama", err: nil},
		&fakePinger{name: "sqlite", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Errorf("expected ready:false")
	}

	var storeCheck *readyCheck
	for i := range resp.Checks {
		if resp.Checks[i].Name == "sqlite" {
			storeCheck = &resp.Checks[i]
		}
	}
	if storeCheck == nil {
		t.Fatal("sqlite check missing from response")
	}
	if storeCheck.OK {
		t.Errorf("sqlite check: expected ok:false")
	}
	if storeCheck.Error == "" {
		t.Errorf("sqlite check: expected non-empty error")
	}
}

// TestHandleReady_AllFailing verifies that /api/ready returns 503 with
// ready:false and all checks showing ok:false when every pinger fails.
func TestHandleReady_AllFailing(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "ollama", err: errors.New("timeout")},
		&fakePinger{name: "sqlite", err: errors.New("connection refused")},
	)
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body: %s", w.Code, w.Body.String())
	}

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Ready {
		t.Errorf("expected ready:false")
	}
	for _, c := range resp.Checks {
		if c.OK {
			t.Errorf("check %q: expected ok:false", c.Name)
		}
	}
}

// TestHandleReady_ContentType verifies the response always has Content-Type
// application/json regardless of probe outcome.
func TestHandleReady_ContentType(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(&fakePinger{name: "ollama", err: errors.New("down")})
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	w := httptest.NewRecorder()

	s.handleReady(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
}

// TestHandleReady_ReportsCollection verifies that a store implementing
// rag.Describer reports its collection and chunk count, and that the other
// checks carry no collection.
func TestHandleReady_ReportsCollection(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(
		&fakePinger{name: "ollama"},
		&describingPinger{
			fakePinger: fakePinger{name: "sqlite"},
			info:       rag.CollectionInfo{Name: "rag-documents", Description: "RAG document collection", Chunks: 42},
		},
	)
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body: %s", w.Code, w.Body.String())
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(resp.Checks))
	}
	if resp.Checks[0].Collection != nil {
		t.Errorf("embedder check should carry no collection, got %+v", resp.Checks[0].Collection)
	}
	got := resp.Checks[1].Collection
	if got == nil {
		t.Fatal("store check is missing its collection")
	}
	if got.Name != "rag-documents" || got.Chunks != 42 {
		t.Errorf("collection: got %+v", *got)
	}
}

// TestHandleReady_DescribeFailure verifies that a store which answers Ping
// but cannot describe its collection fails readiness.
func TestHandleReady_DescribeFailure(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(&describingPinger{
		fakePinger:  fakePinger{name: "sqlite"},
		describeErr: errors.New("no such table: chunks"),
	})
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := resp.Checks[0]
	if c.OK || c.Collection != nil {
		t.Errorf("expected a failed check without collection, got %+v", c)
	}
	if !strings.HasPrefix(c.Error, "describe: ") {
		t.Errorf("error should say the description failed, got %q", c.Error)
	}
}

// TestHandleReady_DescribeSkippedWhenPingFails verifies that the collection
// is not queried once Ping has failed.
func TestHandleReady_DescribeSkippedWhenPingFails(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(&describingPinger{
		fakePinger: fakePinger{name: "qdrant", err: errors.New("connection refused")},
		info:       rag.CollectionInfo{Name: "docs", Chunks: 1},
	})
	w := httptest.NewRecorder()
	s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

	var resp readyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c := resp.Checks[0]; c.Collection != nil || c.Error != "connection refused" {
		t.Errorf("unexpected check: %+v", c)
	}
}

func TestHandleHealth_IncludesVersion(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.Version, "ragvec ") {
		t.Errorf("version: got %q", body.Version)
	}
}

func TestMultiPinger(t *testing.T) {
	t.Parallel()

	ok := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b"})
	if err := ok.Ping(t.Context()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	down := errors.New("down")
	bad := NewMultiPinger(&fakePinger{name: "a"}, &fakePinger{name: "b", err: down})
	err := bad.Ping(t.Context())
	if !errors.Is(err, down) {
		t.Fatalf("expected wrapped probe error, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "b: ") {
		t.Errorf("error should name the failing dependency, got %q", err.Error())
	}
}

func TestCollect_SkipsNonPingers(t *testing.T) {
	t.Parallel()

	p := &fakePinger{name: "store"}
	got := Collect("not a pinger", p, nil, FuncPinger{Label: "fn"})
	if len(got) != 2 {
		t.Fatalf("expected 2 pingers, got %d", len(got))
	}
	if got[0].Name() != "store" || got[1].Name() != "fn" {
		t.Errorf("unexpected order: %q, %q", got[0].Name(), got[1].Name())
	}
}

func TestFuncPinger(t *testing.T) {
	t.Parallel()

	if err := (FuncPinger{Label: "noop"}).Ping(t.Context()); err != nil {
		t.Errorf("nil probe should be healthy, got %v", err)
	}
	down := errors.New("refused")
	err := FuncPinger{Label: "svc", Probe: func(context.Context) error { return down }}.Ping(t.Context())
	if !errors.Is(err, down) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
