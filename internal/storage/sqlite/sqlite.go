// Package sqlite persists slots in a SQLite database. A removed key keeps its
// row with a NULL value so the revision counter never goes backwards.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"eduitraya/internal/storage"

	_ "modernc.org/sqlite"
)

const (
	getQuery = `SELECT value FROM kv_slots WHERE key = ?`
	setQuery = `INSERT INTO kv_slots (key, value, revision, updated_at)
VALUES (?, ?, 1, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    revision = kv_slots.revision + 1,
    updated_at = CURRENT_TIMESTAMP`
	removeQuery = `UPDATE kv_slots
SET value = NULL, revision = revision + 1, updated_at = CURRENT_TIMESTAMP
WHERE key = ? AND value IS NOT NULL`
	revisionQuery = `SELECT revision FROM kv_slots WHERE key = ?`
)

type Repository struct {
	db   *sql.DB
	path string
}

var (
	_ storage.Slot   = (*Repository)(nil)
	_ storage.Closer = (*Repository)(nil)
)

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; several processes may still share the file.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := Migrate(dbPath); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, path: dbPath}, nil
}

func (r *Repository) Name() string { return "sqlite" }

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := storage.CheckKey(key); err != nil {
		return nil, false, err
	}
	var value []byte
	err := r.db.QueryRowContext(ctx, getQuery, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get slot %s: %w", key, err)
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (r *Repository) Set(ctx context.Context, key string, value []byte) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := r.db.ExecContext(ctx, setQuery, key, value); err != nil {
		return fmt.Errorf("set slot %s: %w", key, err)
	}
	return nil
}

func (r *Repository) Remove(ctx context.Context, key string) error {
	if err := storage.CheckKey(key); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, removeQuery, key); err != nil {
		return fmt.Errorf("remove slot %s: %w", key, err)
	}
	return nil
}

func (r *Repository) Revision(ctx context.Context, key string) (string, error) {
	if err := storage.CheckKey(key); err != nil {
		return "", err
	}
	var rev int64
	err := r.db.QueryRowContext(ctx, revisionQuery, key).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get revision %s: %w", key, err)
	}
	return strconv.FormatInt(rev, 10), nil
}
