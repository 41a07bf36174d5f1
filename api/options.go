package api

import (
	"time"

	"github.com/krisalay/tiered-cache/types"
)

// SetOption customizes a single Set call.
type SetOption func(*SetOptions)

// SetOptions is the resolved form of a list of SetOption.
type SetOptions struct {
	TTL      time.Duration
	Metadata types.Metadata
}

// WithTTL makes the entry expire ttl after it is written. Zero means never.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *SetOptions) { o.TTL = ttl }
}

// WithMetadata merges m into the entry's metadata.
func WithMetadata(m types.Metadata) SetOption {
	return func(o *SetOptions) { o.Metadata = o.Metadata.Merge(m) }
}

// WithTags sets the reserved "tags" metadata key.
func WithTags(tags ...string) SetOption {
	return WithMetadata(types.WithTags(tags...))
}

// WithDomain sets the reserved "domain" metadata key.
func WithDomain(domain string) SetOption {
	return WithMetadata(types.WithDomain(domain))
}

// Apply resolves opts in order; later options win.
func Apply(opts []SetOption) SetOptions {
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Item is one entry for Preload.
type Item[V any] struct {
	Key      string         `json:"key"`
	Value    V              `json:"value"`
	TTL      time.Duration  `json:"ttl,omitempty"`
	Metadata types.Metadata `json:"metadata,omitempty"`
}

// Stats is a point-in-time summary of the volatile tier and the lookup counters.
type Stats struct {
	TotalEntries   int
	TotalSizeBytes int64

	// OldestEntryAge and NewestEntryAge are zero when the tier is empty.
	OldestEntryAge time.Duration
	NewestEntryAge time.Duration

	Hits      uint64
	Misses    uint64
	Evictions uint64

	// HitRate is hits/(hits+misses) in [0, 1], or 0 before any lookup.
	HitRate float64

	MemoryOnly bool
}
