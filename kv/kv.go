// Package kv provides durable key-value stores used for job queue
// persistence and the disk cache tier.
package kv

import "context"

// Store is a minimal durable key-value store. Implementations must be safe
// for concurrent use. A missing key is not an error: Get reports presence
// through its second return value.
type Store interface {
	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves the value for key. The bool reports whether the key
	// was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Remove deletes key. Removing a missing key is a no-op.
	Remove(ctx context.Context, key string) error

	// Keys lists all keys currently present.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes all keys.
	Clear(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
