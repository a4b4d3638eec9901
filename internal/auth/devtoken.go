package auth

import (
	"context"
	"fmt"
	"strings"
)

// DevVerifier accepts any non-empty bearer token and treats it as the
// subject/email/role, separated by colons (e.g. "alice:alice@example.com:admin").
// It exists for local development and tests. At startup it is selected
// whenever OIDC is not configured; cfg.Mode plays no part in that choice.
type DevVerifier struct{}

// NewDevVerifier returns the development-only token verifier.
func NewDevVerifier() *DevVerifier { return &DevVerifier{} }

// Verify implements Verifier.
func (DevVerifier) Verify(_ context.Context, bearerToken string) (*Claims, error) {
	token := strings.TrimPrefix(bearerToken, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	parts := strings.SplitN(token, ":", 3)
	claims := &Claims{Subject: parts[0], Role: RoleOperator}
	if len(parts) > 1 {
		claims.Email = parts[1]
	}
	if len(parts) > 2 && IsValidRole(parts[2]) {
		claims.Role = parts[2]
	}
	return claims, nil
}
