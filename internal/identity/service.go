// Package identity manages user records and password verification.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/metergate/metergate/internal/domain"
	"github.com/metergate/metergate/internal/storage"
)

// Service provides signup, lookup, and password verification over a
// storage.UserStore.
type Service struct {
	users storage.UserStore
	now   func() time.Time
}

// NewService creates an identity service backed by the given user store.
func NewService(users storage.UserStore) *Service {
	return &Service{users: users, now: time.Now}
}

// Register creates a new user with a hashed password. Plaintext passwords
// are never stored. Returns a validation error for a taken username.
func (s *Service) Register(ctx context.Context, username, email, password string) (*storage.User, error) {
	if username == "" || password == "" {
		return nil, domain.ErrValidation("username and password are required")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &storage.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Disabled:     false,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, domain.ErrValidation("username already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// Lookup returns the user record for a username.
func (s *Service) Lookup(ctx context.Context, username string) (*storage.User, error) {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrNotFound("user not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// VerifyPassword reports whether the credentials identify a known user.
// Fails closed: any lookup miss, disabled account, or hash mismatch yields
// false, never an error.
func (s *Service) VerifyPassword(ctx context.Context, username, password string) bool {
	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return false
	}
	if u.Disabled {
		return false
	}

	ok, err := CheckPassword(password, u.PasswordHash)
	return err == nil && ok
}
