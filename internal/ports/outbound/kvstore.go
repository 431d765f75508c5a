// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KVStore.Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// KVStore is the shared record store the sentry processes coordinate through.
// Values are opaque JSON documents. Writes are last-writer-wins with no locking.
type KVStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases the backend's resources.
	Close() error
}
