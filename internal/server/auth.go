package server

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/ragvec-go/internal/logging"
)

// scope is the set of protected operations a key unlocks.
type scope uint8

const (
	// scopeSearch allows POST /api/search.
	scopeSearch scope = 1 << iota
	// scopeIngest allows POST /api/documents.
	scopeIngest

	scopeAll = scopeSearch | scopeIngest
)

// String names the scope for log entries.
func (sc scope) String() string {
	switch sc {
	case scopeSearch:
		return "search"
	case scopeIngest:
		return "ingest"
	case scopeAll:
		return "all"
	default:
		return "none"
	}
}

// apiKey is one accepted Bearer token and the scopes it grants.
type apiKey struct {
	token  []byte
	scopes scope
}

// keyring holds the Bearer tokens the server accepts. An empty keyring
// disables authentication.
type keyring []apiKey

// newKeyring builds the keyring from the full-access key and the optional
// search-only key. A search key without a full key would leave ingestion
// open while search is locked, so it is rejected.
func newKeyring(fullKey, searchKey string) (keyring, error) {
	switch {
	case fullKey == "" && searchKey == "":
		return nil, nil
	case fullKey == "":
		return nil, fmt.Errorf("server: a search API key requires the full API key to be set")
	case fullKey == searchKey:
		return nil, fmt.Errorf("server: the search API key must differ from the full API key")
	}
	k := keyring{{token: []byte(fullKey), scopes: scopeAll}}
	if searchKey != "" {
		k = append(k, apiKey{token: []byte(searchKey), scopes: scopeSearch})
	}
	return k, nil
}

// lookup returns the scopes granted to token. Every key is compared in
// constant time so the response time does not reveal which key matched.
func (k keyring) lookup(token string) (scope, bool) {
	var granted scope
	found := false
	for _, key := range k {
		if subtle.ConstantTimeCompare(key.token, []byte(token)) == 1 {
			granted, found = key.scopes, true
		}
	}
	return granted, found
}

// require returns a middleware enforcing Bearer authentication for the given
// scope. With an empty keyring it returns next unchanged.
//
// Requests missing a token or presenting an unknown one receive 401 with a
// WWW-Authenticate challenge. A known key without the scope receives 403.
// Token values are never logged.
func (k keyring) require(need scope, next http.Handler) http.Handler {
	if len(k) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token := bearerToken(r)
		if token == "" {
			log.Warn("auth: missing Authorization header", slog.String("path", r.URL.Path))
			w.Header().Set("WWW-Authenticate", `Bearer realm="ragvec"`)
			writeJSONError(w, r, http.StatusUnauthorized, "authorization required")
			return
		}

		granted, ok := k.lookup(token)
		if !ok {
			log.Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
				slog.Bool("token_present", true),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="ragvec" error="invalid_token"`)
			writeJSONError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		if granted&need != need {
			log.Warn("auth: key lacks scope",
				slog.String("path", r.URL.Path),
				slog.String("granted", granted.String()),
				slog.String("required", need.String()),
			)
			writeJSONError(w, r, http.StatusForbidden, fmt.Sprintf("api key does not allow %s", need))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
