// This file implements LFU eviction.

package eviction

import (
	"sync"
	"time"
)

// lfuNode represents one key tracked by LFU.
type lfuNode struct {
	key  string
	freq int
}

type lfu struct {
	mu sync.Mutex

	// nodes lets us quickly find the node for a key
	nodes map[string]*lfuNode

	// freqMap groups keys by how many times they were accessed
	freqMap map[int]map[string]*lfuNode

	// minFreq is the smallest frequency currently present.
	minFreq int
}

func newLFU() *lfu {
	return &lfu{
		nodes:   make(map[string]*lfuNode),
		freqMap: make(map[int]map[string]*lfuNode),
	}
}

func (l *lfu) OnGet(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[k]
	if !ok {
		return
	}

	old := n.freq
	n.freq++
	l.unbucket(old, k)
	l.bucket(n)
}

// OnPut starts the key at frequency 1. A rewrite is a new value, so it
// starts over too.
func (l *lfu) OnPut(k string, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[k]
	if ok {
		l.unbucket(n.freq, k)
		n.freq = 1
	} else {
		n = &lfuNode{key: k, freq: 1}
		l.nodes[k] = n
	}
	l.bucket(n)
	l.minFreq = 1
}

// Evict removes up to n keys from the lowest-frequency buckets.
// Keys sharing a frequency are evicted in arbitrary order.
func (l *lfu) Evict(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var victims []string
	for len(victims) < n && len(l.nodes) > 0 {
		l.fixMinFreq()
		for k := range l.freqMap[l.minFreq] {
			l.unbucket(l.minFreq, k)
			delete(l.nodes, k)
			victims = append(victims, k)
			break
		}
	}
	return victims
}

func (l *lfu) Remove(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.nodes[k]
	if !ok {
		return
	}
	l.unbucket(n.freq, k)
	delete(l.nodes, k)
}

func (l *lfu) Reset() {
	l.mu.Lock()
	l.nodes = make(map[string]*lfuNode)
	l.freqMap = make(map[int]map[string]*lfuNode)
	l.minFreq = 0
	l.mu.Unlock()
}

func (l *lfu) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nodes)
}

func (l *lfu) bucket(n *lfuNode) {
	if l.freqMap[n.freq] == nil {
		l.freqMap[n.freq] = make(map[string]*lfuNode)
	}
	l.freqMap[n.freq][n.key] = n
}

func (l *lfu) unbucket(freq int, k string) {
	delete(l.freqMap[freq], k)
	if len(l.freqMap[freq]) == 0 {
		delete(l.freqMap, freq)
	}
}

// fixMinFreq re-derives minFreq after buckets were emptied by removals.
func (l *lfu) fixMinFreq() {
	if _, ok := l.freqMap[l.minFreq]; ok {
		return
	}
	l.minFreq = 0
	for f := range l.freqMap {
		if l.minFreq == 0 || f < l.minFreq {
			l.minFreq = f
		}
	}
}
