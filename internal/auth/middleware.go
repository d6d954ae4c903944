package auth

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is the key type for context values.
type ContextKey string

// UserContextKey is the context key for the authenticated user.
const UserContextKey ContextKey = "user"

// Middleware authenticates HTTP requests with bearer tokens.
type Middleware struct {
	verifier *Verifier
	skipAuth bool
}

func NewMiddleware(verifier *Verifier, skipAuth bool) *Middleware {
	return &Middleware{verifier: verifier, skipAuth: skipAuth}
}

// HTTPMiddleware wraps a handler with token validation. With skipAuth set,
// requests run as a fixed dev identity.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, &UserContext{
				UserID:   "dev",
				Username: "dev",
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			t, err := ExtractBearerToken(authHeader)
			if err != nil {
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}
			token = t
		} else if strings.Contains(r.URL.Path, "/events") {
			// Browser EventSource cannot send custom headers.
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
			return
		}

		userCtx, err := m.verifier.Verify(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	u, ok := ctx.Value(UserContextKey).(*UserContext)
	return u, ok
}
