package volatile

import "hash/fnv"

/*
This file decides HOW a cache key is assigned to a segment.

Segments exist to keep copy-on-write cheap: a write copies one segment's map,
not the whole tier.
*/

// hash converts a string key into a number. FNV is a fast, non-cryptographic hash.
func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// segmentCount rounds n up to a power of two so selection is a mask, not a modulo.
func segmentCount(n int) int {
	if n <= 1 {
		return 1
	}
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// selectSegment returns the index of the segment owning key.
func selectSegment(key string, count int) int {
	return int(hash(key) & uint32(count-1))
}
