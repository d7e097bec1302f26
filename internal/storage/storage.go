// Package storage defines the keyed-record store interfaces shared by the
// in-memory and sqlite backends.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("record already exists")
)

// User is a registered account. Records are never deleted; disabled users
// are refused at the session boundary.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Disabled     bool
	CreatedAt    time.Time
}

// AccessKey is a metered API access key. MaxUsage nil means unlimited.
type AccessKey struct {
	Key        string
	UserID     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	IsActive   bool
	UsageCount int
	MaxUsage   *int
}

// Exhausted reports whether the key's quota has been reached.
func (k *AccessKey) Exhausted() bool {
	return k.MaxUsage != nil && k.UsageCount >= *k.MaxUsage
}

// UserStore holds user records keyed by username.
type UserStore interface {
	// CreateUser stores a new user. Returns ErrConflict if the username is
	// already registered.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByUsername returns the user or ErrNotFound.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// KeyStore holds access-key records keyed by the opaque key string.
//
// ConsumeKey is the atomicity boundary for quota enforcement: the
// check-and-increment must execute as a single unit so concurrent consumers
// of the same key can never jointly exceed MaxUsage.
type KeyStore interface {
	// PutKey stores a new access key. Returns ErrConflict on a duplicate
	// key string.
	PutKey(ctx context.Context, k *AccessKey) error

	// GetKey returns the key record (active or not) or ErrNotFound.
	GetKey(ctx context.Context, key string) (*AccessKey, error)

	// ListActiveKeys returns the active keys owned by userID. Order is
	// unspecified.
	ListActiveKeys(ctx context.Context, userID string) ([]*AccessKey, error)

	// DeactivateKey flips IsActive to false. Returns ErrNotFound for an
	// unknown key.
	DeactivateKey(ctx context.Context, key string) error

	// ConsumeKey atomically validates and consumes one use of the key at
	// the given wall-clock instant. It returns true and increments
	// UsageCount only when the key exists, is active, has not expired, and
	// has remaining quota; otherwise it returns false with no side effects.
	ConsumeKey(ctx context.Context, key string, now time.Time) (bool, error)
}

// Store combines both record stores behind one backend.
type Store interface {
	UserStore
	KeyStore
	Close() error
}
