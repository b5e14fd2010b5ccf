package location

import (
	"sync"

	"github.com/couchcryptid/sota-rbn-matcher/internal/domain"
)

// lruCache is a thread-safe LRU of location entries in front of the store.
// Entries keep their LastUpdated so freshness is still checked on hit.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*node
	head       *node // most recently used
	tail       *node // least recently used
}

type node struct {
	key   string
	value domain.LocationEntry
	prev  *node
	next  *node
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*node),
	}
}

func (c *lruCache) get(key string) (domain.LocationEntry, bool) {
	if c.maxEntries <= 0 {
		return domain.LocationEntry{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return domain.LocationEntry{}, false
	}
	c.moveToFront(n)
	return n.value, true
}

// put stores value unless the held entry is newer.
func (c *lruCache) put(key string, value domain.LocationEntry) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		if !value.LastUpdated.Before(n.value.LastUpdated) {
			n.value = value
		}
		c.moveToFront(n)
		return
	}

	n := &node{key: key, value: value}
	c.entries[key] = n
	c.addToFront(n)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(n *node) {
	if n == c.head {
		return
	}
	c.unlink(n)
	c.addToFront(n)
}

func (c *lruCache) addToFront(n *node) {
	n.next = c.head
	n.prev = nil
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *lruCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
