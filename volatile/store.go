/*
Package volatile is the in-process tier (L1) of the cache.

It is the fastest tier and is lost on restart. Reads never take a lock: every
segment is a copy-on-write map swapped atomically. Writes are NOT synchronized
here; the owning cache serializes them behind its write lock.
*/
package volatile

import (
	"sync/atomic"

	"github.com/krisalay/tiered-cache/types"
)

// DefaultSegments is used when the caller asks for zero segments.
const DefaultSegments = 16

// Store holds entries for one cache instance and tracks their estimated size.
type Store[V any] struct {
	segments []*segment[V]

	// bytes is the sum of Header.Size over stored entries.
	bytes atomic.Int64

	// count is kept separately so we don't walk every segment for Len.
	count atomic.Int64
}

// New creates a Store split into n segments (rounded up to a power of two).
func New[V any](n int) *Store[V] {
	if n <= 0 {
		n = DefaultSegments
	}
	segs := make([]*segment[V], segmentCount(n))
	for i := range segs {
		segs[i] = newSegment[V]()
	}
	return &Store[V]{segments: segs}
}

func (s *Store[V]) segmentFor(key string) *segment[V] {
	return s.segments[selectSegment(key, len(s.segments))]
}

// Get returns the entry stored under key. Lock-free.
func (s *Store[V]) Get(key string) (*types.CacheEntry[V], bool) {
	return s.segmentFor(key).get(key)
}

// Put inserts or replaces ent and returns the replaced entry, if any.
func (s *Store[V]) Put(ent *types.CacheEntry[V]) *types.CacheEntry[V] {
	prev := s.segmentFor(ent.Key).put(ent)
	s.bytes.Add(ent.Size)
	if prev != nil {
		s.bytes.Add(-prev.Size)
	} else {
		s.count.Add(1)
	}
	return prev
}

// Delete removes keys and returns the entries that were present.
func (s *Store[V]) Delete(keys ...string) []*types.CacheEntry[V] {
	if len(keys) == 0 {
		return nil
	}

	bySegment := make(map[*segment[V]][]string)
	for _, k := range keys {
		seg := s.segmentFor(k)
		bySegment[seg] = append(bySegment[seg], k)
	}

	var removed []*types.CacheEntry[V]
	for seg, ks := range bySegment {
		removed = append(removed, seg.remove(ks...)...)
	}
	for _, ent := range removed {
		s.bytes.Add(-ent.Size)
		s.count.Add(-1)
	}
	return removed
}

// Len returns how many entries are stored, expired ones included.
func (s *Store[V]) Len() int {
	return int(s.count.Load())
}

// Bytes returns the estimated total payload size.
func (s *Store[V]) Bytes() int64 {
	return s.bytes.Load()
}

// Range calls fn for every entry until fn returns false.
// It walks a snapshot per segment; concurrent writes are not observed mid-walk.
func (s *Store[V]) Range(fn func(*types.CacheEntry[V]) bool) {
	for _, seg := range s.segments {
		for _, ent := range seg.snapshot() {
			if !fn(ent) {
				return
			}
		}
	}
}

// Clear drops every entry.
func (s *Store[V]) Clear() {
	for _, seg := range s.segments {
		seg.reset()
	}
	s.bytes.Store(0)
	s.count.Store(0)
}
