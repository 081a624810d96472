// Package storage persists the two documents the engine owns: the user
// state (subscriptions, settings and the redirect table) and the published
// aggregate. Both are written whole, so a reader never sees a half-written
// document.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested document was never written.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates a document could not be decoded.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrRedirectConflict indicates a temp id already redirects somewhere else.
	ErrRedirectConflict = errors.New("storage: redirect conflict")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "write", "lock", "redirect").
	Op string
	// Entity is the document or entity ("state", "aggregate", "redirect").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Document names.
const (
	DocState     = "state"
	DocAggregate = "aggregate"
)

// Backend stores whole JSON documents by name. Save must replace a
// document atomically: after a failed Save the previous version is intact.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load decodes the named document into v. It returns ErrNotFound when
	// the document was never saved.
	Load(ctx context.Context, name string, v any) error
	// Save replaces the named document with v.
	Save(ctx context.Context, name string, v any) error
	// Close releases any resources held by the backend.
	Close() error
}

// Backend kinds accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open opens the backend of the given kind rooted at dir.
func Open(kind, dir string) (Backend, error) {
	switch kind {
	case "", BackendJSON:
		return NewJSONStore(dir)
	case BackendSQLite:
		return NewSQLiteStore(filepath.Join(dir, "ytfeed.db"))
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidInput, kind)
	}
}
