package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/careloop/clinic-platform/internal/token"
)

type contextKey string

const sessionClaimsKey contextKey = "sessionClaims"

// SessionAuth enforces a bearer session token and stores the verified claims
// in the request context. Expired and malformed tokens get distinct codes so
// clients know when to attempt a refresh.
func SessionAuth(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				writeAuthError(w, "AUTH_REQUIRED", "authorization required")
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")

			claims, err := tokens.Validate(r.Context(), tokenString)
			if err != nil {
				switch {
				case errors.Is(err, token.ErrTokenExpired):
					writeAuthError(w, "TOKEN_EXPIRED", "token expired")
				case errors.Is(err, token.ErrTokenRevoked):
					writeAuthError(w, "AUTH_REQUIRED", "authorization required")
				default:
					writeAuthError(w, "TOKEN_MALFORMED", "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), sessionClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the verified session claims if present.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(sessionClaimsKey).(*token.Claims)
	return claims, ok
}

// WithClaims stores claims in a context; test helper for handlers invoked
// outside the middleware chain.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, sessionClaimsKey, claims)
}

func writeAuthError(w http.ResponseWriter, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "error": msg})
}
