package eviction

import (
	"fmt"
	"math"
	"time"
)

/*
This file defines how the cache decides what to remove when the volatile tier
grows past its memory budget.
*/

/*
Policy is the interface that all eviction strategies must follow.

The cache does NOT care how eviction works internally. It reports reads,
writes and removals, and asks for a batch of victims when it is over budget.

Implementations are safe for concurrent use: OnGet arrives from the lock-free
read path while the other calls arrive under the cache's write lock.
*/
type Policy interface {

	// OnGet is called whenever a key is served from the volatile tier.
	// Oldest-write ignores it; LRU and LFU use it.
	OnGet(key string)

	// OnPut is called whenever a key is written (or promoted) into the volatile
	// tier, with the entry's timestamp.
	OnPut(key string, written time.Time)

	// Remove is called when a key leaves the tier for any reason other than
	// eviction, so bookkeeping stays consistent.
	Remove(key string)

	// Evict picks up to n keys, forgets them and returns them.
	// The cache then removes them from storage.
	Evict(n int) []string

	// Reset drops all bookkeeping (used by Clear).
	Reset()

	// Len returns how many keys are tracked.
	Len() int
}

// PolicyType is a simple identifier for supported eviction strategies.
type PolicyType string

const (
	// OldestWrite evicts the entries with the oldest write timestamp first.
	// This approximates LRU by write recency, not access recency.
	OldestWrite PolicyType = "OLDEST_WRITE"

	// LRU (Least Recently Used): Evicts the key that has NOT been accessed for the longest time.
	LRU PolicyType = "LRU"

	// LFU (Least Frequently Used): Evicts the key that has been accessed the fewest times.
	LFU PolicyType = "LFU"
)

// DefaultFraction is the share of entries removed by one eviction pass.
const DefaultFraction = 0.10

// NewEvictionPolicy is a small factory function.
// Given a PolicyType, it creates the correct eviction policy.
func NewEvictionPolicy(t PolicyType) (Policy, error) {
	switch t {
	case OldestWrite, "":
		return newOldestWrite(), nil
	case LRU:
		return newLRU(), nil
	case LFU:
		return newLFU(), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", t)
	}
}

/*
VictimCount returns how many entries one pass removes from a tier holding
total entries: fraction of them, rounded up, never less than one.
*/
func VictimCount(total int, fraction float64) int {
	if total <= 0 {
		return 0
	}
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultFraction
	}
	// The epsilon keeps float noise (e.g. 0.1*x) from rounding an exact product up.
	n := int(math.Ceil(float64(total)*fraction - 1e-9))
	return max(1, min(n, total))
}
