// Package apikey implements the metered access-key registry: minting,
// listing, revocation, and the atomic validate-and-consume check performed
// on every proxied request.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metergate/metergate/internal/domain"
	"github.com/metergate/metergate/internal/storage"
)

// Validity bounds for new keys, in days.
const (
	MinValidityDays = 1
	MaxValidityDays = 30

	// DefaultValidityDays is used when the caller does not specify one.
	DefaultValidityDays = 7
)

// Registry owns AccessKey records. All mutation goes through here; the
// underlying store provides the per-key atomicity for ConsumeKey.
type Registry struct {
	keys storage.KeyStore
	now  func() time.Time
}

// NewRegistry creates a registry over the given key store.
func NewRegistry(keys storage.KeyStore) *Registry {
	return &Registry{keys: keys, now: time.Now}
}

// Create mints a new key for userID valid for validityDays (1..30 inclusive)
// with an optional usage quota. maxUsage nil means unlimited; when set it
// must be at least 1.
func (r *Registry) Create(ctx context.Context, userID string, validityDays int, maxUsage *int) (*storage.AccessKey, error) {
	if validityDays < MinValidityDays || validityDays > MaxValidityDays {
		return nil, domain.ErrValidation("days valid must be between %d and %d", MinValidityDays, MaxValidityDays)
	}
	if maxUsage != nil && *maxUsage < 1 {
		return nil, domain.ErrValidation("max usage must be at least 1")
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	record := &storage.AccessKey{
		Key:        key,
		UserID:     userID,
		ExpiresAt:  now.Add(time.Duration(validityDays) * 24 * time.Hour),
		CreatedAt:  now,
		IsActive:   true,
		UsageCount: 0,
		MaxUsage:   maxUsage,
	}

	if err := r.keys.PutKey(ctx, record); err != nil {
		return nil, fmt.Errorf("store access key: %w", err)
	}

	return record, nil
}

// List returns the caller's active keys. Order is not significant.
func (r *Registry) List(ctx context.Context, userID string) ([]*storage.AccessKey, error) {
	keys, err := r.keys.ListActiveKeys(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list access keys: %w", err)
	}
	return keys, nil
}

// Revoke deactivates a key owned by requestingUserID. Unknown keys and keys
// that are already inactive both report NotFound: the registry exposes an
// active-keys-only view, so a revoked key is indistinguishable from a
// missing one.
func (r *Registry) Revoke(ctx context.Context, key, requestingUserID string) error {
	record, err := r.keys.GetKey(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.ErrNotFound("API key not found")
		}
		return fmt.Errorf("get access key: %w", err)
	}

	if !record.IsActive {
		return domain.ErrNotFound("API key not found")
	}
	if record.UserID != requestingUserID {
		return domain.ErrForbidden("not authorized to revoke this API key")
	}

	if err := r.keys.DeactivateKey(ctx, key); err != nil {
		return fmt.Errorf("deactivate access key: %w", err)
	}

	return nil
}

// ValidateAndConsume checks the key and consumes one use. It returns false
// with no side effects when the key is unknown, inactive, expired, or has
// reached its quota. The check-and-increment is atomic at the store; expiry
// is judged against the wall clock at call time.
func (r *Registry) ValidateAndConsume(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	ok, err := r.keys.ConsumeKey(ctx, key, r.now().UTC())
	if err != nil {
		return false, fmt.Errorf("consume access key: %w", err)
	}
	return ok, nil
}
