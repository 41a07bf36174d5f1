package api

import (
	"context"
	"time"

	"github.com/krisalay/tiered-cache/types"
)

/*
Cache defines the PUBLIC API of the tiered cache.
This is a contract that guarantees certain behaviors, without exposing internals.
Tiers, eviction, expiration, serialization and durable I/O are all hidden
behind this interface.
*/
type Cache[V any] interface {

	// Initialize opens the durable tier once. Calling it is optional:
	// every other operation does it lazily. Durable failure is not an error.
	Initialize(ctx context.Context) error

	/*
		Get retrieves the value associated with the given key.

		BEHAVIOR:
		-------------------
		1. If the key is live in the volatile tier: return it (hit)
		2. Otherwise ask the durable tier; a live entry there is promoted
		   into the volatile tier and returned (hit)
		3. Otherwise: zero value and false (miss)
	*/
	Get(ctx context.Context, key string) (V, bool)

	/*
		Set stores a key-value pair, replacing any previous entry.

		BEHAVIOR:
		---------
		- Stores the value in memory
		- Evicts the oldest entries if the memory budget is exceeded
		- Forwards the entry to the durable tier; failures there are absorbed
	*/
	Set(ctx context.Context, key string, value V, opts ...SetOption) error

	// Delete removes a key from both tiers. Removing a missing key is safe.
	Delete(ctx context.Context, key string) error

	// Clear empties both tiers and resets statistics.
	Clear(ctx context.Context) error

	// Preload sets every item, continuing past failures.
	Preload(ctx context.Context, items []Item[V]) error

	// Query returns live volatile entries accepted by pred, oldest first.
	Query(pred func(types.CacheEntry[V]) bool) []types.CacheEntry[V]

	GetByTag(tag string) []types.CacheEntry[V]
	GetByDomain(domain string) []types.CacheEntry[V]

	Stats() Stats

	// HitRate is the percentage of lookups that hit.
	HitRate() float64

	/*
		TTL returns the remaining time-to-live for a key.

		RETURN VALUES (Redis-compatible semantics):
		-------------------------------------------
		> 0   : Duration remaining before expiration
		-1    : Key exists but has no TTL
		-2    : Key does not exist or is already expired
	*/
	TTL(key string) time.Duration

	/*
		Close gracefully shuts down the cache.

		BEHAVIOR:
		---------
		- Flushes any pending write-back operations
		- Closes the durable store
	*/
	Close() error
}
