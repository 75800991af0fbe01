package sched

import (
	"encoding/binary"
	"net"
)

// goldenRatioPrime is the multiplier closest to the golden ratio of 2^32,
// the same constant the kernel's IPVS hashing uses.
const goldenRatioPrime = 2654435761

// hashKey maps an IPv4 address, taken as a big-endian integer, onto the
// hash table.
func hashKey(ip uint32) uint32 {
	return (ip * goldenRatioPrime) & HashTabMask
}

// ipv4ToUint parses addr as IPv4 and returns it as an integer, or false
// when the address is malformed.
func ipv4ToUint(addr string) (uint32, bool) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return 0, false
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(ip4), true
}

// addressHashing is the common machinery of the destination and source
// hashing policies: hash the bound address onto the pool and fall back to
// a round-robin walk from that offset when the hashed worker is full.
type addressHashing struct {
	state    State
	handleIP string
}

func (p *addressHashing) SetState(state State) {
	p.state = state
}

func (p *addressHashing) SetHandleIP(ip string) {
	p.handleIP = ip
}

func (p *addressHashing) selectByHash() int {
	ids := p.state.ids()
	if len(ids) == 0 {
		return NoBackend
	}
	ip, ok := ipv4ToUint(p.handleIP)
	if !ok {
		return BadAddress
	}
	start := int(hashKey(ip)) % len(ids)
	for i := 0; i < len(ids); i++ {
		id := ids[(start+i)%len(ids)]
		if p.state.Backends[id].HasCapacity() {
			return id
		}
	}
	return NoBackend
}

// DestinationHashing statically maps the destination address onto the pool
// with a hash function, falling back to round robin when the mapped worker
// is full.
type DestinationHashing struct {
	addressHashing
}

// NewDestinationHashing returns a destination-hashing policy.
func NewDestinationHashing() *DestinationHashing {
	return &DestinationHashing{}
}

// Select returns the backend the destination address hashes to.
func (p *DestinationHashing) Select() int {
	return p.selectByHash()
}

// SourceHashing statically maps the source address onto the pool with a
// hash function, falling back to round robin when the mapped worker is
// full.
type SourceHashing struct {
	addressHashing
}

// NewSourceHashing returns a source-hashing policy.
func NewSourceHashing() *SourceHashing {
	return &SourceHashing{}
}

// Select returns the backend the source address hashes to.
func (p *SourceHashing) Select() int {
	return p.selectByHash()
}
