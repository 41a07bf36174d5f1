// This file defines how cache entries expire over time.

package expiration

import (
	"time"

	"github.com/krisalay/tiered-cache/types"
)

/*
IsExpired is the TTL rule of the cache.

  - No TTL (zero) => never expires
  - Otherwise the entry is expired once now - Timestamp > TTL

Expiration is lazy. Nothing sweeps the tiers in the background; the first
read or eviction pass that sees an expired entry removes it.
*/
func IsExpired(h *types.Header, now time.Time) bool {
	if h.TTL <= 0 {
		return false
	}
	return now.Sub(h.Timestamp) > h.TTL
}

/*
Strategy is the interface that all expiration rules must follow. Instead of hard-coding
expiration logic into the cache, we define a strategy so expiration behavior can be swapped easily.
*/
type Strategy interface {

	// IsExpired checks if the entry is expired at now.
	IsExpired(*types.Header, time.Time) bool
}

// WriteTime expires an entry TTL after its last write. This is the default.
type WriteTime struct{}

func (WriteTime) IsExpired(h *types.Header, now time.Time) bool {
	return IsExpired(h, now)
}

/*
MaxAge caps the lifetime of every entry, including entries written without a
TTL. An entry is expired when its own TTL elapsed or when it is older than Max.
A zero Max disables the cap.
*/
type MaxAge struct {
	Max time.Duration
}

func (m MaxAge) IsExpired(h *types.Header, now time.Time) bool {
	if IsExpired(h, now) {
		return true
	}
	return m.Max > 0 && now.Sub(h.Timestamp) > m.Max
}
