package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
)

// Guard is the Session Guard: it resolves the bearer token of a protected
// request to an Identity.
type Guard struct {
	provider AuthProvider
}

func NewGuard(p AuthProvider) *Guard { return &Guard{provider: p} }

// Authenticate verifies the Authorization header of r.
func (g *Guard) Authenticate(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, fmt.Errorf("%w: authentication required, no token provided", apperrors.ErrAuthentication)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return Identity{}, fmt.Errorf("%w: invalid authorization header format", apperrors.ErrAuthentication)
	}
	return g.provider.VerifyToken(strings.TrimSpace(parts[1]))
}
