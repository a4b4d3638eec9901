package auth

import "context"

// Claims are the identity fields extracted from a verified bearer token.
type Claims struct {
	Subject string
	Email   string
	Role    string
}

// Verifier validates a bearer token and extracts identity claims from it.
// The control plane is injected with one concrete Verifier at startup
// (OIDC in production, the dev-token stub otherwise) — domain code never
// depends on the concrete implementation, only on this interface.
type Verifier interface {
	Verify(ctx context.Context, bearerToken string) (*Claims, error)
}
