// Package db is the Identity Store: users and the processor customer id
// each user is bound to.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when inserting a user whose email already exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrCustomerAlreadySet is returned when a user already has a different processor customer id.
	ErrCustomerAlreadySet = errors.New("processor customer already set")
)

// User is a registered account. ProcessorCustomerID is empty until the first
// purchase attempt.
type User struct {
	ID                  string
	Name                string
	Email               string
	PasswordHash        string
	ProcessorCustomerID string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const userColumns = `id, name, email, password_hash, processor_customer_id, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var customerID sql.NullString
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &customerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.ProcessorCustomerID = customerID.String
	return u, nil
}

// Create inserts u. A duplicate email yields ErrEmailTaken.
func (s *Store) Create(ctx context.Context, u User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE processor_customer_id = $1`, customerID)
}

func (s *Store) getOne(ctx context.Context, query string, arg string) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// SetCustomerID binds customerID to the user if it has none yet. When another
// writer got there first the stored user is returned together with
// ErrCustomerAlreadySet so the caller can adopt the winning id.
func (s *Store) SetCustomerID(ctx context.Context, userID, customerID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET processor_customer_id = $2, updated_at = now()
		WHERE id = $1 AND processor_customer_id IS NULL
		RETURNING `+userColumns,
		userID, customerID)
	u, err := scanUser(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("set processor customer id: %w", err)
	}
	existing, err := s.GetByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if existing.ProcessorCustomerID == customerID {
		return existing, nil
	}
	return existing, ErrCustomerAlreadySet
}
