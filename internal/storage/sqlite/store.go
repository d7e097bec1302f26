// Package sqlite provides a durable Store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/metergate/metergate/internal/storage"
)

// Store is a SQLite implementation of storage.Store. The quota
// check-and-increment in ConsumeKey is a single guarded UPDATE, so it is
// atomic at the database level.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection avoids
	// SQLITE_BUSY under concurrent key consumption.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			disabled INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS access_keys (
			key TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			usage_count INTEGER NOT NULL DEFAULT 0,
			max_usage INTEGER,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_access_keys_user ON access_keys(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	query := `INSERT INTO users (id, username, email, password_hash, disabled, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, boolToInt(u.Disabled), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	query := `SELECT id, username, email, password_hash, disabled, created_at
	          FROM users WHERE username = ?`

	var u storage.User
	var disabled int
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &disabled, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	u.Disabled = disabled != 0
	return &u, nil
}

func (s *Store) PutKey(ctx context.Context, k *storage.AccessKey) error {
	query := `INSERT INTO access_keys (key, user_id, expires_at, created_at, is_active, usage_count, max_usage)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		k.Key, k.UserID, k.ExpiresAt, k.CreatedAt, boolToInt(k.IsActive), k.UsageCount, k.MaxUsage)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("failed to create access key: %w", err)
	}

	return nil
}

func (s *Store) GetKey(ctx context.Context, key string) (*storage.AccessKey, error) {
	query := `SELECT key, user_id, expires_at, created_at, is_active, usage_count, max_usage
	          FROM access_keys WHERE key = ?`

	return scanKey(s.db.QueryRowContext(ctx, query, key))
}

func (s *Store) ListActiveKeys(ctx context.Context, userID string) ([]*storage.AccessKey, error) {
	query := `SELECT key, user_id, expires_at, created_at, is_active, usage_count, max_usage
	          FROM access_keys WHERE user_id = ? AND is_active = 1`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list access keys: %w", err)
	}
	defer rows.Close()

	var keys []*storage.AccessKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access keys: %w", err)
	}

	return keys, nil
}

func (s *Store) DeactivateKey(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE access_keys SET is_active = 0 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to deactivate access key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (s *Store) ConsumeKey(ctx context.Context, key string, now time.Time) (bool, error) {
	// The validity checks and the increment share one UPDATE so the quota
	// can never be jointly exceeded by concurrent consumers.
	query := `UPDATE access_keys
	          SET usage_count = usage_count + 1
	          WHERE key = ?
	            AND is_active = 1
	            AND expires_at > ?
	            AND (max_usage IS NULL OR usage_count < max_usage)`

	res, err := s.db.ExecContext(ctx, query, key, now)
	if err != nil {
		return false, fmt.Errorf("failed to consume access key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*storage.AccessKey, error) {
	var k storage.AccessKey
	var active int
	var maxUsage sql.NullInt64

	err := row.Scan(&k.Key, &k.UserID, &k.ExpiresAt, &k.CreatedAt, &active, &k.UsageCount, &maxUsage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan access key: %w", err)
	}

	k.IsActive = active != 0
	if maxUsage.Valid {
		mu := int(maxUsage.Int64)
		k.MaxUsage = &mu
	}

	return &k, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
