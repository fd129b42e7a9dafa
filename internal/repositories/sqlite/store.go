package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/repositories"

	// Registers the pure Go "sqlite" driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_ts INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS blob (
	id         TEXT PRIMARY KEY,
	digest     TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_ts INTEGER NOT NULL
);`

// Store is a single-file SQLite backend for both the key-value stores and
// the blob store.
type Store struct {
	db *sql.DB
}

var _ repositories.Backend = (*Store)(nil)

// Open opens (and migrates) the database at path. Use ":memory:" in tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_ts = excluded.updated_ts`,
		key, value, time.Now().Unix(),
	)
	return err
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) Put(ctx context.Context, id string, data []byte) (string, error) {
	digest := repositories.Digest(data)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blob (id, digest, data, created_ts) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET digest = excluded.digest, data = excluded.data`,
		id, digest, data, time.Now().Unix(),
	)
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	var (
		digest string
		data   []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT digest, data FROM blob WHERE id = ?`, id).Scan(&digest, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if repositories.Digest(data) != digest {
		return nil, repositories.ErrBlobCorrupt
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blob WHERE id = ?`, id)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
