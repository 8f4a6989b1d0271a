package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ykst615/learn-zhihu-api/internal/auth"
)

type contextKey string

const UserCtxKey = contextKey("user")

// TokenParser verifies a bearer token and returns its claims.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// Identity is the authenticated caller.
type Identity struct {
	ID   string
	Name string
}

// JWTAuth rejects requests without a valid bearer token and stores the
// caller's Identity in the request context.
func JWTAuth(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				RespondError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				RespondError(w, http.StatusUnauthorized, "invalid Authorization header")
				return
			}

			claims, err := tokens.Parse(parts[1])
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					RespondError(w, http.StatusUnauthorized, "token expired")
					return
				}
				logg.Debug("middleware/auth", "Rejected token: "+err.Error())
				RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), UserCtxKey, Identity{ID: claims.UserID, Name: claims.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the caller set by JWTAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(UserCtxKey).(Identity)
	return id, ok
}

// RequireOwner lets the request through only when the authenticated caller
// is the user named by the URL parameter param.
func RequireOwner(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := IdentityFromContext(r.Context())
			if !ok {
				RespondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if caller.ID != chi.URLParam(r, param) {
				RespondError(w, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
