// Package kvstore persists small opaque values under fixed keys. It backs the
// policy and allowlist namespaces.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for a key that was never written.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a last-writer-wins key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}
