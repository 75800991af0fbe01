// Package cache provides the small response caches the load generator
// keys by request kind: an LRU cache and a FIFO variant. Neither is safe
// for concurrent use; callers serialize access.
package cache

import (
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get for a key that is not cached. Callers
// that cannot tolerate it check Contains first.
var ErrNotFound = errors.New("key is not cached")

// Cache is the contract both variants satisfy.
type Cache interface {
	// Get returns the cached value and promotes it per the eviction
	// discipline, or fails with ErrNotFound.
	Get(key int) ([]byte, error)
	// Put inserts or updates a value, evicting per the discipline when
	// the cache is at capacity.
	Put(key int, value []byte)
	// Contains reports whether the key is cached without promoting it.
	Contains(key int) bool
	// Len returns the number of cached entries.
	Len() int
}
