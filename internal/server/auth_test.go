package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// okHandler is a trivial handler used to verify that allowed requests reach
// the downstream handler.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func mustKeyring(t *testing.T, full, search string) keyring {
	t.Helper()
	k, err := newKeyring(full, search)
	if err != nil {
		t.Fatalf("newKeyring: %v", err)
	}
	return k
}

// TestKeyring_Disabled verifies that an empty keyring lets every request
// through without an Authorization header.
func TestKeyring_Disabled(t *testing.T) {
	t.Parallel()

	k := mustKeyring(t, "", "")
	for _, need := range []scope{scopeSearch, scopeIngest} {
		w := httptest.NewRecorder()
		k.require(need, okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/documents", nil))
		if w.Code != http.StatusOK {
			t.Errorf("scope %s: expected 200 when auth disabled, got %d", need, w.Code)
		}
	}
}

func TestNewKeyring_RejectsInconsistentKeys(t *testing.T) {
	t.Parallel()

	if _, err := newKeyring("", "reader"); err == nil {
		t.Error("search key without full key: expected error")
	}
	if _, err := newKeyring("same", "same"); err == nil {
		t.Error("identical keys: expected error")
	}
}

// TestKeyring_Scopes covers which key opens which route.
func TestKeyring_Scopes(t *testing.T) {
	t.Parallel()

	k := mustKeyring(t, "admin", "reader")

	tests := []struct {
		name       string
		header     string
		need       scope
		wantStatus int
		wantChall  bool
	}{
		{"full key searches", "Bearer admin", scopeSearch, http.StatusOK, false},
		{"full key ingests", "Bearer admin", scopeIngest, http.StatusOK, false},
		{"search key searches", "Bearer reader", scopeSearch, http.StatusOK, false},
		{"search key cannot ingest", "Bearer reader", scopeIngest, http.StatusForbidden, false},
		{"lowercase scheme", "bearer admin", scopeIngest, http.StatusOK, false},
		{"missing header", "", scopeSearch, http.StatusUnauthorized, true},
		{"wrong token", "Bearer wrong-token", scopeSearch, http.StatusUnauthorized, true},
		{"token prefix", "Bearer admi", scopeSearch, http.StatusUnauthorized, true},
		{"basic auth", "Basic dXNlcjpwYXNz", scopeIngest, http.StatusUnauthorized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			k.require(tt.need, okHandler).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("WWW-Authenticate") != ""; got != tt.wantChall {
				t.Errorf("WWW-Authenticate present = %v, want %v", got, tt.wantChall)
			}
			if tt.wantStatus != http.StatusOK {
				if ct := w.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("rejection Content-Type: got %q", ct)
				}
			}
		})
	}
}

func TestKeyring_Lookup(t *testing.T) {
	t.Parallel()

	k := mustKeyring(t, "admin", "reader")
	if sc, ok := k.lookup("admin"); !ok || sc != scopeAll {
		t.Errorf("admin: got %s, %v", sc, ok)
	}
	if sc, ok := k.lookup("reader"); !ok || sc != scopeSearch {
		t.Errorf("reader: got %s, %v", sc, ok)
	}
	if _, ok := k.lookup(""); ok {
		t.Error("empty token must not match")
	}
}

// TestBearerToken verifies the bearerToken extraction helper.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got := bearerToken(req)
		if got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
