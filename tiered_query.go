package cache

import (
	"sort"
	"time"

	"github.com/krisalay/tiered-cache/types"
)

/*
Query returns copies of the live volatile entries accepted by pred, oldest
write first (ties by key).

Only the volatile tier is scanned. Entries that exist only in the durable
tier become visible once a Get promotes them. Expired entries met during the
scan are removed.
*/
func (c *TieredCache[V]) Query(pred func(types.CacheEntry[V]) bool) []types.CacheEntry[V] {
	var (
		out     []types.CacheEntry[V]
		expired []*types.CacheEntry[V]
		now     = time.Now()
	)

	c.l1.Range(func(ent *types.CacheEntry[V]) bool {
		if c.engine.Expiration.IsExpired(&ent.Header, now) {
			expired = append(expired, ent)
			return true
		}
		cp := *ent
		cp.Metadata = ent.Metadata.Clone()
		if pred == nil || pred(cp) {
			out = append(out, cp)
		}
		return true
	})

	for _, ent := range expired {
		c.expireVolatile(ent)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// GetByTag returns the live entries whose metadata tags include tag.
func (c *TieredCache[V]) GetByTag(tag string) []types.CacheEntry[V] {
	return c.Query(func(e types.CacheEntry[V]) bool {
		return e.Metadata.HasTag(tag)
	})
}

// GetByDomain returns the live entries whose metadata domain equals domain.
func (c *TieredCache[V]) GetByDomain(domain string) []types.CacheEntry[V] {
	return c.Query(func(e types.CacheEntry[V]) bool {
		return e.Metadata.Domain() == domain
	})
}

// Stats summarizes the volatile tier. Expired entries not yet removed are counted.
func (c *TieredCache[V]) Stats() Stats {
	var (
		oldest, newest time.Time
		now            = time.Now()
	)
	c.l1.Range(func(ent *types.CacheEntry[V]) bool {
		if oldest.IsZero() || ent.Timestamp.Before(oldest) {
			oldest = ent.Timestamp
		}
		if newest.IsZero() || ent.Timestamp.After(newest) {
			newest = ent.Timestamp
		}
		return true
	})

	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		TotalEntries:   c.l1.Len(),
		TotalSizeBytes: c.l1.Bytes(),
		Hits:           hits,
		Misses:         misses,
		Evictions:      c.evictions.Load(),
		MemoryOnly:     c.memoryOnly.Load(),
	}
	if !oldest.IsZero() {
		s.OldestEntryAge = now.Sub(oldest)
		s.NewestEntryAge = now.Sub(newest)
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

// HitRate returns the share of lookups that hit, as a percentage (0-100).
func (c *TieredCache[V]) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) * 100 / float64(hits+misses)
}
