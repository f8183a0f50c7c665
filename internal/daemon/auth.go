package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireBearer wraps a handler with bearer-token authentication. An empty
// token disables the check, which only happens for loopback-only test binds;
// config validation refuses to start a real daemon without one.
func requireBearer(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
