package balancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingIndexMatchesByPortAndAddr(t *testing.T) {
	idx := newPendingIndex()
	a := &pendingReq{addr: "127.0.0.1", port: "40000"}
	b := &pendingReq{addr: "127.0.0.5", port: "40000"}
	c := &pendingReq{addr: "127.0.0.1", port: "40001"}
	idx.add(a)
	idx.add(b)
	idx.add(c)
	require.Equal(t, 3, idx.len())

	// Same port, different addresses: the address breaks the tie.
	assert.Equal(t, b, idx.take("127.0.0.5", "40000"))
	assert.Equal(t, a, idx.take("127.0.0.1", "40000"))
	assert.Equal(t, 1, idx.len())

	assert.Nil(t, idx.take("127.0.0.1", "40000"))
	assert.Equal(t, c, idx.take("127.0.0.1", "40001"))
	assert.Equal(t, 0, idx.len())
}

func TestPendingIndexToleratesDuplicates(t *testing.T) {
	idx := newPendingIndex()
	first := &pendingReq{addr: "127.0.0.1", port: "40000"}
	second := &pendingReq{addr: "127.0.0.1", port: "40000"}
	idx.add(first)
	idx.add(second)

	// Duplicates drain in insertion order.
	assert.Equal(t, first, idx.take("127.0.0.1", "40000"))
	assert.Equal(t, second, idx.take("127.0.0.1", "40000"))
	assert.Nil(t, idx.take("127.0.0.1", "40000"))
}

func TestPendingIndexDrain(t *testing.T) {
	idx := newPendingIndex()
	idx.add(&pendingReq{addr: "127.0.0.1", port: "1"})
	idx.add(&pendingReq{addr: "127.0.0.1", port: "2"})

	drained := idx.drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, idx.len())
	assert.Nil(t, idx.take("127.0.0.1", "1"))
}
