// Package storage defines the narrow persistence interface shared by the
// cache store and the write queue, plus in-memory and Redis implementations.
//
// A Backend is a namespaced key/value store. Namespaces keep cache
// generations and the write queue isolated from each other while letting
// both ride on the same physical store.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested key does not exist in the namespace.
var ErrNotFound = errors.New("storage: key not found")

// Error wraps a storage-layer I/O failure (connection loss, disk full,
// quota exceeded). Callers decide retry policy; backends never retry.
type Error struct {
	Op        string // "read", "write", "delete", "list"
	Namespace string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("storage %s in %q: %v", e.Op, e.Namespace, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Backend is the persistence collaborator. All methods must be safe for
// concurrent use; writes to a single key must be atomic (readers never
// observe a torn value).
type Backend interface {
	// Read returns the value stored under namespace/key.
	// Returns ErrNotFound if the key does not exist.
	Read(ctx context.Context, namespace, key string) ([]byte, error)

	// Write stores value under namespace/key, replacing any previous value.
	Write(ctx context.Context, namespace, key string, value []byte) error

	// Delete removes namespace/key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, namespace, key string) error

	// List returns all keys in the namespace in lexicographic order.
	// The result is a finite snapshot; callers may re-list at any time.
	List(ctx context.Context, namespace string) ([]string, error)
}
