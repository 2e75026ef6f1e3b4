// Package auth provides caller identity for the codemode HTTP surface.
//
// This is deliberately a shim: the daemon is designed to sit behind a
// service that has already authenticated the user, so identity arrives as
// trusted headers or is fixed to an anonymous user. Token verification
// belongs to the surrounding service.
package auth

import (
	"context"
)

// RoleAdmin marks identities allowed to manage daemons owned by other
// users.
const RoleAdmin = "admin"

// Identity describes the caller of an HTTP request.
type Identity struct {
	// UserID is the stable identifier of the caller.
	UserID string

	// Role is the caller's role. Empty means a regular user.
	Role string
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// IdentityContextKey is the key used to store Identity in the request
// context. Using an empty struct as the key prevents collisions with other
// context keys.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context. If identity is nil, the
// original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context.
// Returns the identity and true if present, nil and false otherwise.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}
