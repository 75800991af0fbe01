// Package sched implements the server-selection policies the balancer
// dispatches with. A policy works over a snapshot of the worker pool that
// the balancer rebinds before every selection, so policies stay pure and
// deterministic and tests can pin outcomes.
package sched

import (
	"sort"
)

// Sentinel results of Select. Valid worker ids are always positive.
const (
	// NoBackend means no worker in the snapshot has spare capacity.
	NoBackend = -1
	// BadAddress is returned only by the hashing policies when the
	// address to hash is not a well-formed IPv4 address.
	BadAddress = 0
)

// ReservedCapacity is held back on every worker so a full worker is never
// driven to its hard limit.
const ReservedCapacity = 1

// Hash table geometry for the destination/source hashing policies.
const (
	HashTabBits = 12
	HashTabSize = 1 << HashTabBits
	HashTabMask = HashTabSize - 1
)

// Backend is one worker as the scheduler sees it.
type Backend struct {
	Addr    string
	Port    string
	MaxLoad int
	CurLoad int
}

// HasCapacity reports whether the backend can take one more request while
// keeping the reserved headroom.
func (b Backend) HasCapacity() bool {
	return b.CurLoad < b.MaxLoad-ReservedCapacity
}

// State is the pool snapshot a policy selects over, plus the address the
// hashing policies key on.
type State struct {
	Backends map[int]Backend
	HandleIP string
}

// ids returns the backend ids in ascending order. All policies iterate in
// this order, which makes tie-breaking deterministic.
func (s State) ids() []int {
	ids := make([]int, 0, len(s.Backends))
	for id := range s.Backends {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Policy selects a worker id from the bound state snapshot.
type Policy interface {
	// Select returns a worker id with spare capacity, NoBackend when the
	// pool is saturated, or BadAddress (hashing policies only) when the
	// bound address cannot be parsed.
	Select() int
	// SetState rebinds the pool snapshot. Called before every Select.
	SetState(State)
}

// HashingPolicy is implemented by policies that key on an address.
type HashingPolicy interface {
	Policy
	SetHandleIP(string)
}
