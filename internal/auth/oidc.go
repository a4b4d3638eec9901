package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// oidcClaims mirrors the subset of standard OIDC claims the control plane
// relies on for identity.
type oidcClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

// OIDCVerifier validates bearer JWTs against an OIDC provider's discovered
// signing keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier performs OIDC discovery against issuerURL and returns a
// Verifier that validates tokens issued for clientID. This makes a network
// call to fetch the provider's public keys.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering OIDC provider %s: %w", issuerURL, err)
	}

	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// Verify implements Verifier.
func (v *OIDCVerifier) Verify(ctx context.Context, bearerToken string) (*Claims, error) {
	token := strings.TrimPrefix(bearerToken, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token")
	}

	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	var c oidcClaims
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("extracting claims: %w", err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("token missing sub claim")
	}
	if !IsValidRole(c.Role) {
		c.Role = RoleOperator
	}

	return &Claims{Subject: c.Subject, Email: c.Email, Role: c.Role}, nil
}
