// Package memory provides an in-memory Store for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/metergate/metergate/internal/storage"
)

// Store is an in-memory implementation of storage.Store. A single mutex
// guards both maps; ConsumeKey's check-and-increment runs entirely under the
// write lock, which is the quota-atomicity guarantee.
type Store struct {
	mu    sync.RWMutex
	users map[string]*storage.User      // username -> user
	keys  map[string]*storage.AccessKey // key -> access key
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users: make(map[string]*storage.User),
		keys:  make(map[string]*storage.AccessKey),
	}
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Username]; exists {
		return storage.ErrConflict
	}

	cp := *u
	s.users[u.Username] = &cp
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[username]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *u
	return &cp, nil
}

func (s *Store) PutKey(ctx context.Context, k *storage.AccessKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[k.Key]; exists {
		return storage.ErrConflict
	}

	cp := copyKey(k)
	s.keys[k.Key] = cp
	return nil
}

func (s *Store) GetKey(ctx context.Context, key string) (*storage.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, exists := s.keys[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyKey(k), nil
}

func (s *Store) ListActiveKeys(ctx context.Context, userID string) ([]*storage.AccessKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.AccessKey
	for _, k := range s.keys {
		if k.UserID == userID && k.IsActive {
			result = append(result, copyKey(k))
		}
	}

	return result, nil
}

func (s *Store) DeactivateKey(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, exists := s.keys[key]
	if !exists {
		return storage.ErrNotFound
	}

	k.IsActive = false
	return nil
}

func (s *Store) ConsumeKey(ctx context.Context, key string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, exists := s.keys[key]
	if !exists {
		return false, nil
	}
	if !k.IsActive {
		return false, nil
	}
	if now.After(k.ExpiresAt) {
		return false, nil
	}
	if k.Exhausted() {
		return false, nil
	}

	k.UsageCount++
	return true, nil
}

func (s *Store) Close() error {
	return nil
}

// copyKey returns a deep copy so callers cannot mutate stored records.
func copyKey(k *storage.AccessKey) *storage.AccessKey {
	cp := *k
	if k.MaxUsage != nil {
		mu := *k.MaxUsage
		cp.MaxUsage = &mu
	}
	return &cp
}
