package types

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by a durable store that cannot be used in this
// environment (sandboxed, missing directory, unreachable server).
var ErrUnavailable = errors.New("durable store unavailable")

/*
DurableStore is the contract between the cache and the persisted tier.

Every method may fail on its own. The cache never surfaces these failures to
its callers; it logs them and keeps serving from memory.

No multi-key transactions are assumed.
*/
type DurableStore interface {

	// Open prepares the backend. It is called once by the cache's init gate.
	// An error here switches the cache to memory-only mode.
	Open(ctx context.Context) error

	// Get returns the record for key. found=false with a nil error is a plain miss.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Put inserts or replaces the record for rec.Key.
	Put(ctx context.Context, rec Record) error

	// Delete removes key. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every record in this store's namespace.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Loader fetches a value from the origin when the cache has nothing for key.
type Loader[V any] func(ctx context.Context, key string) (V, error)
