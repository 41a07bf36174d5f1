package types

import "time"

// Reserved metadata keys used for secondary indexing.
const (
	MetaTags   = "tags"
	MetaDomain = "domain"
)

/*
Header is the part of a cache entry the cache itself understands.
Expiration, eviction and statistics only ever look at the header; the value
stays opaque to them.
*/
type Header struct {
	Key string

	// Timestamp is the creation / last write time. It drives both TTL and
	// eviction ordering.
	Timestamp time.Time

	// TTL is how long the entry stays alive after Timestamp. Zero => never expires.
	TTL time.Duration

	// Metadata is an open bag. "tags" and "domain" are reserved for indexing.
	Metadata Metadata

	// Size is the estimated payload size in bytes.
	Size int64
}

// ExpireAt returns the absolute expiry time, or the zero time when there is no TTL.
func (h *Header) ExpireAt() time.Time {
	if h.TTL <= 0 {
		return time.Time{}
	}
	return h.Timestamp.Add(h.TTL)
}

/*
CacheEntry is the unit of storage.

Entries are never mutated once they are handed to a tier. A write with the
same key replaces the whole entry; readers holding the old pointer keep a
consistent view.
*/
type CacheEntry[V any] struct {
	Header
	Value V
}

// Record is the durable-tier row: the key, the advisory timestamp index and the
// whole entry serialized into an opaque blob.
type Record struct {
	Key       string
	Timestamp time.Time

	// TTL is only a hint for stores with native expiry. The cache re-validates
	// on every read regardless.
	TTL time.Duration

	Blob []byte
}
