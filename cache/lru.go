package cache

import (
	"container/list"
)

// LRU is a fixed-capacity least-recently-used cache. Lookups are O(1)
// through a map; recency order lives in an intrusive list whose front is
// the MRU end.
type LRU struct {
	capacity int
	order    *list.List
	entries  map[int]*list.Element
}

type lruEntry struct {
	key   int
	value []byte
}

// NewLRU returns an empty cache holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[int]*list.Element, capacity),
	}
}

// Get returns the value for key and moves it to the MRU end, or fails
// with ErrNotFound.
func (c *LRU) Get(key int) ([]byte, error) {
	el, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, nil
}

// Put inserts or updates the value for key at the MRU end. An insert at
// capacity evicts the LRU end first.
func (c *LRU) Put(key int, value []byte) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		c.evict()
	}
	c.entries[key] = c.order.PushFront(&lruEntry{key: key, value: value})
}

// Contains reports whether key is cached. It does not touch recency.
func (c *LRU) Contains(key int) bool {
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *LRU) Len() int {
	return c.order.Len()
}

// Keys returns the cached keys from MRU to LRU.
func (c *LRU) Keys() []int {
	keys := make([]int, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry).key)
	}
	return keys
}

func (c *LRU) evict() {
	back := c.order.Back()
	if back == nil {
		return
	}
	delete(c.entries, back.Value.(*lruEntry).key)
	c.order.Remove(back)
}
