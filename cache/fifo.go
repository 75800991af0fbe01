package cache

import (
	"container/list"
)

// FIFO is a fixed-capacity first-in-first-out cache. Access does not
// affect eviction order; the oldest insertion is evicted first.
type FIFO struct {
	capacity int
	order    *list.List
	entries  map[int]*list.Element
}

type fifoEntry struct {
	key   int
	value []byte
}

// NewFIFO returns an empty cache holding at most capacity entries.
func NewFIFO(capacity int) *FIFO {
	return &FIFO{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[int]*list.Element, capacity),
	}
}

// Get returns the value for key or fails with ErrNotFound.
func (c *FIFO) Get(key int) ([]byte, error) {
	el, ok := c.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return el.Value.(*fifoEntry).value, nil
}

// Put inserts or updates the value for key. An update keeps the original
// insertion position; an insert at capacity evicts the oldest entry.
func (c *FIFO) Put(key int, value []byte) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*fifoEntry).value = value
		return
	}
	if c.order.Len() >= c.capacity {
		front := c.order.Front()
		delete(c.entries, front.Value.(*fifoEntry).key)
		c.order.Remove(front)
	}
	c.entries[key] = c.order.PushBack(&fifoEntry{key: key, value: value})
}

// Contains reports whether key is cached.
func (c *FIFO) Contains(key int) bool {
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached entries.
func (c *FIFO) Len() int {
	return c.order.Len()
}
