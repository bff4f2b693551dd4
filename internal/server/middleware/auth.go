package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// Auth requires one of the comma-separated keys in apiKeys, sent as a
// Bearer token or in X-API-Key. Listing two keys allows rotation without
// downtime. Paths under a public prefix skip the check; the relay webhook
// authenticates with its own body signature. An empty apiKeys disables auth.
func Auth(apiKeys string, public ...string) func(http.Handler) http.Handler {
	keys := splitKeys(apiKeys)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 || isPublic(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="crosstrade"`)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing authentication token")
				return
			}
			if !matchesAny(token, keys) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitKeys(s string) [][]byte {
	var keys [][]byte
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

// matchesAny compares against every key so timing does not reveal which
// one matched.
func matchesAny(token string, keys [][]byte) bool {
	ok := 0
	for _, k := range keys {
		ok |= subtle.ConstantTimeCompare([]byte(token), k)
	}
	return ok == 1
}

func isPublic(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeError writes the same {"error","message"} body as the API handlers.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	body, _ := json.Marshal(map[string]string{"error": code, "message": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
