package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth requires a Bearer token or X-API-Key header equal to apiKey. An
// empty apiKey disables the check. Paths in public are always allowed.
func Auth(apiKey string, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range public {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	// Browsers cannot set headers on websocket upgrades.
	return r.URL.Query().Get("api_key")
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
