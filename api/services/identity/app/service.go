// Package app implements registration, login and profile lookup on top of
// the Identity Store and the AuthProvider.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tbeaudouin05/stripe-subscriptions/api/apperrors"
	"github.com/tbeaudouin05/stripe-subscriptions/api/services/auth"
	identitydb "github.com/tbeaudouin05/stripe-subscriptions/api/services/identity/db"
	"github.com/tbeaudouin05/stripe-subscriptions/api/validation"
)

// UserStore is the subset of the Identity Store used here.
type UserStore interface {
	Create(ctx context.Context, u identitydb.User) (identitydb.User, error)
	GetByID(ctx context.Context, id string) (identitydb.User, error)
	GetByEmail(ctx context.Context, email string) (identitydb.User, error)
}

// Service defines the identity operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, in RegisterInput) (Session, error)
	Login(ctx context.Context, in LoginInput) (Session, error)
	Me(ctx context.Context, userID string) (UserView, error)
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UserView is the public projection of a user; it never carries the hash.
type UserView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	StripeCustomerID string `json:"stripeCustomerId,omitempty"`
}

type Session struct {
	User  UserView `json:"user"`
	Token string   `json:"token"`
}

type serviceImpl struct {
	users UserStore
	auth  auth.AuthProvider
}

func NewService(users UserStore, provider auth.AuthProvider) Service {
	return serviceImpl{users: users, auth: provider}
}

func toView(u identitydb.User) UserView {
	return UserView{ID: u.ID, Name: u.Name, Email: u.Email, StripeCustomerID: u.ProcessorCustomerID}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s serviceImpl) Register(ctx context.Context, in RegisterInput) (Session, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return Session{}, err
	}

	hash, err := s.auth.HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	u, err := s.users.Create(ctx, identitydb.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, identitydb.ErrEmailTaken) {
		return Session{}, fmt.Errorf("%w: user already exists", apperrors.ErrConflict)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperrors.ErrDatabase, err)
	}

	token, err := s.auth.IssueToken(u.ID)
	if err != nil {
		return Session{}, err
	}
	slog.Info("user registered", "user_id", u.ID)
	return Session{User: toView(u), Token: token}, nil
}

func (s serviceImpl) Login(ctx context.Context, in LoginInput) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validation.Struct(in); err != nil {
		return Session{}, err
	}

	u, err := s.users.GetByEmail(ctx, in.Email)
	if errors.Is(err, identitydb.ErrUserNotFound) {
		return Session{}, fmt.Errorf("%w: invalid credentials", apperrors.ErrAuthentication)
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", apperrors.ErrDatabase, err)
	}
	if err := s.auth.ComparePassword(u.PasswordHash, in.Password); err != nil {
		return Session{}, fmt.Errorf("%w: invalid credentials", apperrors.ErrAuthentication)
	}

	token, err := s.auth.IssueToken(u.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{User: toView(u), Token: token}, nil
}

func (s serviceImpl) Me(ctx context.Context, userID string) (UserView, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, identitydb.ErrUserNotFound) {
		return UserView{}, fmt.Errorf("%w: user not found", apperrors.ErrNotFound)
	}
	if err != nil {
		return UserView{}, fmt.Errorf("%w: %v", apperrors.ErrDatabase, err)
	}
	return toView(u), nil
}
