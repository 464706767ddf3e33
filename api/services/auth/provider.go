// Package auth issues and verifies bearer tokens, hashes passwords, and
// resolves the caller identity for protected requests.
package auth

import "context"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	UserID string
}

// AuthProvider is the narrow capability the billing and identity services
// depend on.
type AuthProvider interface {
	IssueToken(userID string) (string, error)
	VerifyToken(token string) (Identity, error)
	HashPassword(password string) (string, error)
	ComparePassword(hash, password string) error
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by the Session Guard, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}
