// Package auth authenticates inbound requests against an externally issued
// identity token and exposes the resulting Identity through the request
// context. Per the system's scope, the control plane never stores or
// verifies passwords itself — auth.Verifier delegates to whatever identity
// provider issued the bearer token (OIDC in production, a dev-mode stub
// elsewhere).
package auth

import (
	"context"
)

// Roles recognised by the control plane. Deployment and Project operations
// are gated by ownership (owner_id), not by role; none of the mounted routes
// applies RequireRole or RequireMinRole.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleReadonly = "readonly"
)

var validRoles = map[string]struct{}{
	RoleAdmin:    {},
	RoleOperator: {},
	RoleReadonly: {},
}

// IsValidRole reports whether role is one of the recognised roles.
func IsValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}

// Authentication methods recorded on Identity for audit/debugging purposes.
const (
	MethodOIDC = "oidc"
	MethodDev  = "dev"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	Subject string // stable subject identifier from the identity token
	Email   string
	Role    string
	OwnerID int64 // Project/User owner id this identity maps to
	Method  string
}

type identityKey struct{}

// NewContext returns a context carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the Identity stored by the auth middleware, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
