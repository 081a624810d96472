package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const lockTimeout = 5 * time.Second

// JSONStore keeps each document in its own JSON file under a directory.
// It holds a lock on the directory for its lifetime.
type JSONStore struct {
	dir  string
	lock *FileLock
	mu   sync.RWMutex
}

// NewJSONStore opens (creating if needed) the data directory dir.
func NewJSONStore(dir string) (*JSONStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty data directory", ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: dir, Err: err}
	}

	s := &JSONStore{
		dir:  dir,
		lock: NewFileLock(filepath.Join(dir, "ytfeed.lock")),
	}
	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads the named document.
func (s *JSONStore) Load(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &StorageError{Op: "read", Entity: name, Err: ErrNotFound}
		}
		return &StorageError{Op: "read", Entity: name, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &StorageError{Op: "read", Entity: name, Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	}
	return nil
}

// Save replaces the named document in one rename.
func (s *JSONStore) Save(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := replaceFile(s.path(name), func(w io.Writer) error {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	})
	if err != nil {
		return &StorageError{Op: "write", Entity: name, Err: err}
	}
	return nil
}

// Close releases the directory lock.
func (s *JSONStore) Close() error {
	return s.lock.Unlock()
}
