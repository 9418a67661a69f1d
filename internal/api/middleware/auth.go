package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const userContextKey contextKey = "user"

// AuthMiddleware resolves bearer tokens to user IDs for authenticated
// endpoints.
type AuthMiddleware struct {
	tokens map[string]string // token -> user ID
}

// NewAuthMiddleware creates an auth middleware over a static token map.
func NewAuthMiddleware(tokens map[string]string) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth verifies the bearer token and puts the resolved user ID on
// the request context. Websocket clients cannot set headers from every
// environment, so a token query parameter is accepted as a fallback.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		userID := m.resolve(token)
		if userID == "" {
			jsonError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve compares the presented token against every known one in
// constant time.
func (m *AuthMiddleware) resolve(token string) string {
	for known, userID := range m.tokens {
		if len(known) == len(token) && subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return userID
		}
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// UserID retrieves the authenticated user ID from the request context,
// or "" when the request is unauthenticated.
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey).(string)
	return userID
}
