package balancer

import (
	"net"
)

// pendingReq records one client connection awaiting a response. The
// source address and port are extracted at accept time and matched
// against the Target-IP/Target-Port routing headers on worker responses.
type pendingReq struct {
	conn net.Conn
	addr string
	port string
}

// pendingIndex is the routing table for in-flight requests: a multimap
// keyed by source port. Several entries may share a port; lookups break
// ties by source address.
type pendingIndex struct {
	byPort map[string][]*pendingReq
	count  int
}

func newPendingIndex() *pendingIndex {
	return &pendingIndex{byPort: make(map[string][]*pendingReq)}
}

func (p *pendingIndex) add(req *pendingReq) {
	p.byPort[req.port] = append(p.byPort[req.port], req)
	p.count++
}

// take removes and returns the first entry matching the routing pair, or
// nil when no client is waiting for it.
func (p *pendingIndex) take(addr, port string) *pendingReq {
	bucket := p.byPort[port]
	for i, req := range bucket {
		if req.addr == addr {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(p.byPort, port)
			} else {
				p.byPort[port] = bucket
			}
			p.count--
			return req
		}
	}
	return nil
}

func (p *pendingIndex) len() int {
	return p.count
}

// drain empties the index and returns every outstanding entry, used at
// shutdown to close the waiting connections.
func (p *pendingIndex) drain() []*pendingReq {
	var all []*pendingReq
	for _, bucket := range p.byPort {
		all = append(all, bucket...)
	}
	p.byPort = make(map[string][]*pendingReq)
	p.count = 0
	return all
}
