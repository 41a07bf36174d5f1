package volatile

import (
	"maps"
	"sync/atomic"

	"github.com/krisalay/tiered-cache/types"
)

/*
segment is a Copy-On-Write map of entries.

  - Readers always see an immutable snapshot
  - Writers create a NEW copy of the map
  - The new map replaces the old one atomically

Writers must be serialized by the caller.
*/
type segment[V any] struct {
	data atomic.Pointer[map[string]*types.CacheEntry[V]]
}

func newSegment[V any]() *segment[V] {
	s := &segment[V]{}
	m := make(map[string]*types.CacheEntry[V])
	s.data.Store(&m)
	return s
}

func (s *segment[V]) snapshot() map[string]*types.CacheEntry[V] {
	return *s.data.Load()
}

func (s *segment[V]) get(key string) (*types.CacheEntry[V], bool) {
	ent, ok := s.snapshot()[key]
	return ent, ok
}

// put stores ent and returns the entry it replaced, if any.
func (s *segment[V]) put(ent *types.CacheEntry[V]) *types.CacheEntry[V] {
	old := s.snapshot()

	n := make(map[string]*types.CacheEntry[V], len(old)+1)
	maps.Copy(n, old)
	prev := n[ent.Key]
	n[ent.Key] = ent

	s.data.Store(&n)
	return prev
}

// remove deletes keys and returns the entries that were present.
func (s *segment[V]) remove(keys ...string) []*types.CacheEntry[V] {
	old := s.snapshot()

	var removed []*types.CacheEntry[V]
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if ent, ok := old[k]; ok {
			removed = append(removed, ent)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	n := make(map[string]*types.CacheEntry[V], len(old))
	maps.Copy(n, old)
	for _, ent := range removed {
		delete(n, ent.Key)
	}

	s.data.Store(&n)
	return removed
}

func (s *segment[V]) reset() {
	m := make(map[string]*types.CacheEntry[V])
	s.data.Store(&m)
}
