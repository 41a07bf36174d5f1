// This file implements oldest-write-first eviction.

package eviction

import (
	"slices"
	"strings"
	"sync"
	"time"
)

type oldestWrite struct {
	mu sync.Mutex

	// written maps each tracked key to its entry timestamp.
	// Promoted entries keep their original timestamp, so insertion order is
	// not enough; victims are chosen by sorting on demand.
	written map[string]time.Time
}

func newOldestWrite() *oldestWrite {
	return &oldestWrite{written: make(map[string]time.Time)}
}

// OnGet ignores reads. Only the write timestamp matters.
func (o *oldestWrite) OnGet(string) {}

// OnPut records (or replaces) the key's write timestamp.
func (o *oldestWrite) OnPut(k string, written time.Time) {
	o.mu.Lock()
	o.written[k] = written
	o.mu.Unlock()
}

func (o *oldestWrite) Remove(k string) {
	o.mu.Lock()
	delete(o.written, k)
	o.mu.Unlock()
}

/*
Evict orders every tracked key by timestamp ascending and returns the first n.
Equal timestamps fall back to key order so a pass is deterministic.
*/
func (o *oldestWrite) Evict(n int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n <= 0 || len(o.written) == 0 {
		return nil
	}

	keys := make([]string, 0, len(o.written))
	for k := range o.written {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := o.written[a].Compare(o.written[b]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	victims := keys[:min(n, len(keys))]
	for _, k := range victims {
		delete(o.written, k)
	}
	return victims
}

func (o *oldestWrite) Reset() {
	o.mu.Lock()
	o.written = make(map[string]time.Time)
	o.mu.Unlock()
}

func (o *oldestWrite) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.written)
}
