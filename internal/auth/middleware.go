package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// UserResolver maps a verified identity to the internal owner id, creating a
// User record on first sight of a subject. Implemented by pkg/user; injected
// here to avoid internal/auth depending on the domain layer.
type UserResolver interface {
	ResolveOrCreate(ctx context.Context, subject, email string) (ownerID int64, err error)
}

// Middleware authenticates the caller's bearer token via verifier, resolves
// the owning User record via users, and stores the resulting Identity in the
// request context. Requests without an Authorization header are passed
// through unauthenticated; RequireAuth rejects them downstream.
func Middleware(verifier Verifier, users UserResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := verifier.Verify(r.Context(), authHeader)
			if err != nil {
				logger.Warn("authentication failed", "error", err)
				respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ownerID, err := users.ResolveOrCreate(r.Context(), claims.Subject, claims.Email)
			if err != nil {
				logger.Error("resolving user for authenticated identity", "subject", claims.Subject, "error", err)
				respondErr(w, http.StatusInternalServerError, "internal_error", "failed to resolve user")
				return
			}

			identity := &Identity{
				Subject: claims.Subject,
				Email:   claims.Email,
				Role:    claims.Role,
				OwnerID: ownerID,
				Method:  MethodOIDC,
			}
			if _, ok := verifier.(*DevVerifier); ok {
				identity.Method = MethodDev
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func respondErr(w http.ResponseWriter, status int, errStr, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errStr,
		"message": message,
	})
}
