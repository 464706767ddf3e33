package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
)

// Claims carries the user id under "id" to stay compatible with tokens
// issued by the previous API.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// Provider is the JWT + bcrypt AuthProvider.
type Provider struct {
	secret []byte
	ttl    time.Duration
	hasher *BcryptHasher
	now    func() time.Time
}

// NewProvider signs tokens with secret (HS256) valid for ttl.
func NewProvider(secret string, ttl time.Duration, bcryptCost int) *Provider {
	return &Provider{
		secret: []byte(secret),
		ttl:    ttl,
		hasher: NewBcryptHasher(bcryptCost),
		now:    time.Now,
	}
}

func (p *Provider) IssueToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", apperrors.ErrValidation)
	}
	now := p.now().UTC()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (p *Provider) VerifyToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: no token provided", apperrors.ErrAuthentication)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: token expired", apperrors.ErrAuthentication)
		}
		return Identity{}, fmt.Errorf("%w: invalid token: %v", apperrors.ErrAuthentication, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: invalid token", apperrors.ErrAuthentication)
	}
	return Identity{UserID: claims.UserID}, nil
}

func (p *Provider) HashPassword(password string) (string, error) {
	return p.hasher.Hash(password)
}

func (p *Provider) ComparePassword(hash, password string) error {
	return p.hasher.Verify(password, hash)
}
