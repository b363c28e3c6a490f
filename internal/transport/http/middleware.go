package http

import (
	"context"
	"net/http"
)

// KeyValidator checks a trigger API key.
type KeyValidator interface {
	Validate(ctx context.Context, apiKey string) bool
}

type AuthMiddleware struct {
	auth KeyValidator
}

func NewAuthMiddleware(a KeyValidator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// Wrap rejects requests to the poll trigger without a known X-API-Key.
// /healthz and /metrics are routed around it for probes and scrapers.
func (m *AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		if !m.auth.Validate(r.Context(), apiKey) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
