package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "pqshield/pkg/domain"
)

// TokenVerifier validates bearer tokens. Both token shapes issued by the
// hybrid signer satisfy it.
type TokenVerifier interface {
	VerifyUser(ctx context.Context, token string) (id.UserID, error)
}

type contextKeyUserID struct{}

// GetUserID retrieves the authenticated user ID from the context.
func GetUserID(ctx context.Context) id.UserID {
	userID, ok := ctx.Value(contextKeyUserID{}).(id.UserID)
	if !ok {
		return ""
	}
	return userID
}

// RequireAuth rejects requests without a valid bearer token and places the
// authenticated user ID in the request context.
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			userID, err := verifier.VerifyUser(ctx, token)
			if err != nil {
				if logger != nil {
					logger.WarnContext(ctx, "unauthorized request",
						"request_id", GetRequestID(ctx),
						"path", r.URL.Path,
						"error", err,
					)
				}
				unauthorized(w, "invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyUserID{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
