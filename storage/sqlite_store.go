package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// SQLiteStore keeps documents as rows of a single table in an SQLite
// database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}
	// One connection serializes writers without SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the named document.
func (s *SQLiteStore) Load(ctx context.Context, name string, v any) error {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return &StorageError{Op: "read", Entity: name, Err: ErrNotFound}
	}
	if err != nil {
		return &StorageError{Op: "read", Entity: name, Err: err}
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return &StorageError{Op: "read", Entity: name, Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	}
	return nil
}

// Save upserts the named document in a transaction.
func (s *SQLiteStore) Save(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return &StorageError{Op: "write", Entity: name, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "write", Entity: name, Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		name, string(body), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &StorageError{Op: "write", Entity: name, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: name, Err: err}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
