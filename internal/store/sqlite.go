package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kv store: open: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv store: wal: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("kv store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Key: key, Err: err}
	}

	if expiresAt.Valid && s.now().UnixNano() >= expiresAt.Int64 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at = ?`, key, expiresAt.Int64); err != nil {
			return nil, &StoreError{Op: "expire", Key: key, Err: err}
		}
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return &StoreError{Op: "set", Err: errors.New("key cannot be empty")}
	}
	if ttl < 0 {
		return &StoreError{Op: "set", Key: key, Err: errors.New("ttl cannot be negative")}
	}

	var expiresAt *int64
	if ttl > 0 {
		v := s.now().Add(ttl).UnixNano()
		expiresAt = &v
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, expires_at=excluded.expires_at
	`, key, value, expiresAt)
	if err != nil {
		return &StoreError{Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, length(?)) = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`, prefix, prefix, s.now().UnixNano())
	if err != nil {
		return nil, &StoreError{Op: "keys", Key: prefix, Err: err}
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &StoreError{Op: "keys", Key: prefix, Err: err}
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "keys", Key: prefix, Err: err}
	}
	return keys, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
