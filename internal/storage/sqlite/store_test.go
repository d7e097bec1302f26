package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/metergate/metergate/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &storage.User{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Disabled:     false,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if got.ID != "u1" || got.Email != "alice@example.com" || got.Disabled {
		t.Errorf("got %+v", got)
	}

	if err := s.CreateUser(ctx, u); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate CreateUser err = %v, want ErrConflict", err)
	}
	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown GetUserByUsername err = %v, want ErrNotFound", err)
	}
}

func TestKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	quota := 5
	k := &storage.AccessKey{
		Key:       "mg_k1",
		UserID:    "u1",
		ExpiresAt: now.Add(24 * time.Hour),
		CreatedAt: now,
		IsActive:  true,
		MaxUsage:  &quota,
	}
	if err := s.PutKey(ctx, k); err != nil {
		t.Fatalf("PutKey: %v", err)
	}
	if err := s.PutKey(ctx, k); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("duplicate PutKey err = %v, want ErrConflict", err)
	}

	got, err := s.GetKey(ctx, "mg_k1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.UserID != "u1" || got.MaxUsage == nil || *got.MaxUsage != 5 {
		t.Errorf("got %+v", got)
	}
	if !got.IsActive || got.UsageCount != 0 {
		t.Errorf("got %+v", got)
	}

	// Unlimited keys come back with a nil quota.
	unlimited := &storage.AccessKey{
		Key: "mg_k2", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: true,
	}
	if err := s.PutKey(ctx, unlimited); err != nil {
		t.Fatalf("PutKey: %v", err)
	}
	got, err = s.GetKey(ctx, "mg_k2")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.MaxUsage != nil {
		t.Errorf("MaxUsage = %v, want nil", got.MaxUsage)
	}

	if _, err := s.GetKey(ctx, "mg_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown GetKey err = %v, want ErrNotFound", err)
	}
}

func TestListActiveKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	put := func(key, user string, active bool) {
		t.Helper()
		err := s.PutKey(ctx, &storage.AccessKey{
			Key: key, UserID: user, ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: active,
		})
		if err != nil {
			t.Fatalf("PutKey(%s): %v", key, err)
		}
	}
	put("mg_a", "u1", true)
	put("mg_b", "u1", false)
	put("mg_c", "u2", true)

	keys, err := s.ListActiveKeys(ctx, "u1")
	if err != nil {
		t.Fatalf("ListActiveKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].Key != "mg_a" {
		t.Errorf("ListActiveKeys = %+v, want just mg_a", keys)
	}
}

func TestDeactivateKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.PutKey(ctx, &storage.AccessKey{
		Key: "mg_a", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: true,
	})
	if err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	if err := s.DeactivateKey(ctx, "mg_a"); err != nil {
		t.Fatalf("DeactivateKey: %v", err)
	}
	got, _ := s.GetKey(ctx, "mg_a")
	if got.IsActive {
		t.Error("key still active after DeactivateKey")
	}

	if err := s.DeactivateKey(ctx, "mg_missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown DeactivateKey err = %v, want ErrNotFound", err)
	}
}

func TestConsumeKeyChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	quota := 1
	keys := []*storage.AccessKey{
		{Key: "mg_ok", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: true},
		{Key: "mg_inactive", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: false},
		{Key: "mg_expired", UserID: "u1", ExpiresAt: now.Add(-time.Hour), CreatedAt: now, IsActive: true},
		{Key: "mg_spent", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: true, UsageCount: 1, MaxUsage: &quota},
	}
	for _, k := range keys {
		if err := s.PutKey(ctx, k); err != nil {
			t.Fatalf("PutKey(%s): %v", k.Key, err)
		}
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"mg_ok", true},
		{"mg_inactive", false},
		{"mg_expired", false},
		{"mg_spent", false},
		{"mg_unknown", false},
	}
	for _, tt := range tests {
		ok, err := s.ConsumeKey(ctx, tt.key, now)
		if err != nil {
			t.Fatalf("ConsumeKey(%s): %v", tt.key, err)
		}
		if ok != tt.want {
			t.Errorf("ConsumeKey(%s) = %v, want %v", tt.key, ok, tt.want)
		}
	}

	spent, _ := s.GetKey(ctx, "mg_spent")
	if spent.UsageCount != 1 {
		t.Errorf("mg_spent UsageCount = %d, want 1", spent.UsageCount)
	}
	consumed, _ := s.GetKey(ctx, "mg_ok")
	if consumed.UsageCount != 1 {
		t.Errorf("mg_ok UsageCount = %d, want 1", consumed.UsageCount)
	}
}

func TestConsumeKeyConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	quota := 10
	err := s.PutKey(ctx, &storage.AccessKey{
		Key: "mg_shared", UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, IsActive: true, MaxUsage: &quota,
	})
	if err != nil {
		t.Fatalf("PutKey: %v", err)
	}

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeKey(ctx, "mg_shared", now)
			if err != nil {
				t.Errorf("ConsumeKey: %v", err)
				return
			}
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != quota {
		t.Errorf("accepted = %d, want exactly %d", accepted, quota)
	}
	k, _ := s.GetKey(ctx, "mg_shared")
	if k.UsageCount != quota {
		t.Errorf("UsageCount = %d, want %d", k.UsageCount, quota)
	}
}
