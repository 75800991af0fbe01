package cache

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUBasics(t *testing.T) {
	c := NewLRU(3)
	assert.False(t, c.Contains(1))
	_, err := c.Get(1)
	assert.Equal(t, ErrNotFound, err)

	c.Put(1, []byte("one"))
	require.True(t, c.Contains(1))
	v, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(v))

	c.Put(1, []byte("uno"))
	v, err = c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "uno", string(v))
	assert.Equal(t, 1, c.Len())
}

// After any sequence of puts the size never exceeds the capacity.
func TestLRUCapacityBound(t *testing.T) {
	c := NewLRU(3)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		c.Put(rng.Intn(10), []byte("x"))
		require.LessOrEqual(t, c.Len(), 3)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU(3)
	c.Put(1, []byte("a"))
	c.Put(2, []byte("b"))
	c.Put(3, []byte("c"))

	c.Put(4, []byte("d"))
	assert.False(t, c.Contains(1))
	assert.True(t, c.Contains(2))
	assert.Equal(t, []int{4, 3, 2}, c.Keys())
}

// An accessed entry is not the next eviction target until capacity-1
// other keys have been touched.
func TestLRUPromotesOnAccess(t *testing.T) {
	c := NewLRU(3)
	c.Put(1, []byte("a"))
	c.Put(2, []byte("b"))
	c.Put(3, []byte("c"))

	_, err := c.Get(1)
	require.NoError(t, err)
	c.Put(4, []byte("d"))
	assert.True(t, c.Contains(1), "a fresh Get must protect the entry")
	assert.False(t, c.Contains(2))

	c.Put(3, []byte("c2"))
	c.Put(5, []byte("e"))
	assert.True(t, c.Contains(3), "a fresh Put must protect the entry")
	assert.True(t, c.Contains(4))
	assert.False(t, c.Contains(1), "4 and 3 were touched after the Get of 1")
}

// Cycling over no more distinct keys than the capacity converges to a
// permanent hit for every access.
func TestLRUHitRateMonotonicity(t *testing.T) {
	c := NewLRU(3)
	misses := 0
	for round := 0; round < 100; round++ {
		for key := 0; key < 3; key++ {
			if !c.Contains(key) {
				misses++
				c.Put(key, []byte(fmt.Sprintf("v%d", key)))
				continue
			}
			_, err := c.Get(key)
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 3, misses, "only the cold start may miss")
}

func TestFIFOEvictsOldestInsertion(t *testing.T) {
	c := NewFIFO(3)
	c.Put(1, []byte("a"))
	c.Put(2, []byte("b"))
	c.Put(3, []byte("c"))

	// Access does not protect entries in a FIFO cache.
	_, err := c.Get(1)
	require.NoError(t, err)
	c.Put(4, []byte("d"))
	assert.False(t, c.Contains(1))
	assert.True(t, c.Contains(2))
	assert.Equal(t, 3, c.Len())
}

func TestFIFOUpdateKeepsPosition(t *testing.T) {
	c := NewFIFO(2)
	c.Put(1, []byte("a"))
	c.Put(2, []byte("b"))
	c.Put(1, []byte("a2"))

	c.Put(3, []byte("c"))
	assert.False(t, c.Contains(1), "an update must not refresh insertion order")
	v, err := c.Get(2)
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))
}
