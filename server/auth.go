package server

import (
	"context"
	"net/http"
	"strings"

	"TrackVault/core/auth"
	"TrackVault/logger"
)

type contextKey string

const userIDKey contextKey = "userId"

// AnonymousUser owns requests when authentication is disabled and no
// X-User-ID header is sent.
const AnonymousUser = "anonymous"

// AuthMiddleware puts the caller's user id in the request context. With a
// secret every request needs a valid bearer token; without one the
// X-User-ID header is trusted.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if secret != "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					http.Error(w, "Authorization header required", http.StatusUnauthorized)
					return
				}
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
					http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
					return
				}
				claims, err := auth.ParseToken(secret, parts[1])
				if err != nil {
					logger.Debug("rejected token", logger.ErrorField(err))
					http.Error(w, "Invalid token", http.StatusUnauthorized)
					return
				}
				userID = claims.UserID
			}
			if userID == "" {
				userID = AnonymousUser
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the id stored by AuthMiddleware.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return AnonymousUser
}
