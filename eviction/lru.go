// This file implements LRU eviction.

package eviction

import (
	"sync"
	"time"
)

// lruNode represents ONE key inside the LRU structure. We use a doubly-linked list to track usage order.
type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

// lru tracks access recency. It is an alternative to the default oldest-write
// policy for deployments that prefer true LRU-by-access semantics.
type lru struct {
	mu sync.Mutex

	// nodes maps cache keys to their list nodes for O(1) moves.
	nodes map[string]*lruNode

	// head points to the MOST recently used key
	head *lruNode

	// tail points to the LEAST recently used key
	tail *lruNode
}

func newLRU() *lru {
	return &lru{nodes: make(map[string]*lruNode)}
}

// OnGet marks the key as most recently used.
func (l *lru) OnGet(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.nodes[k]; ok {
		l.moveToFront(n)
	}
}

// OnPut adds a new key at the front. A rewrite of a known key counts as a use.
func (l *lru) OnPut(k string, _ time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.nodes[k]; ok {
		l.moveToFront(n)
		return
	}
	n := &lruNode{key: k}
	l.nodes[k] = n
	l.addFront(n)
}

// Evict pops up to n keys from the tail.
func (l *lru) Evict(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var victims []string
	for len(victims) < n && l.tail != nil {
		k := l.tail.key
		l.remove(l.tail)
		delete(l.nodes, k)
		victims = append(victims, k)
	}
	return victims
}

func (l *lru) Remove(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n, ok := l.nodes[k]; ok {
		l.remove(n)
		delete(l.nodes, k)
	}
}

func (l *lru) Reset() {
	l.mu.Lock()
	l.nodes = make(map[string]*lruNode)
	l.head, l.tail = nil, nil
	l.mu.Unlock()
}

func (l *lru) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.nodes)
}

func (l *lru) addFront(n *lruNode) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n

	// If the list was empty, head and tail are the same
	if l.tail == nil {
		l.tail = n
	}
}

// remove unlinks a node, fixing head and tail as needed.
func (l *lru) remove(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (l *lru) moveToFront(n *lruNode) {
	l.remove(n)
	l.addFront(n)
}
