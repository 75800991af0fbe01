// Package client implements the load generator: many concurrent logical
// clients, each opening one connection and exchanging one request and one
// response with the balancer, short-circuited by a shared response cache
// keyed on the request kind.
package client

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/mailgun/timetools"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ChunxuTang/Load-Balancing-Server/cache"
	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
)

// DefaultCacheCapacity is the response cache size.
const DefaultCacheCapacity = 3

// Options configures a Manager.
type Options struct {
	// Clients is how many logical clients to run.
	Clients int
	// Host/Port locate the balancer.
	Host string
	Port string
	// CacheCapacity sizes the shared response cache.
	CacheCapacity int
	// FIFOCache selects the FIFO cache variant instead of the LRU one.
	FIFOCache bool
	// Seed makes the request-kind sequence reproducible; zero seeds from
	// the clock.
	Seed int64
	// Clock measures the elapsed run time.
	Clock timetools.TimeProvider
}

func setDefaults(o Options) Options {
	if o.CacheCapacity == 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	if o.Clock == nil {
		o.Clock = &timetools.RealTime{}
	}
	return o
}

// Manager runs the client fleet. One mutex guards everything the clients
// share: the cache, the hit counter, the open-socket list and the random
// source. The mutex is dropped across every blocking read and write.
type Manager struct {
	options Options

	mtx   sync.Mutex
	cache cache.Cache
	rng   *rand.Rand
	hits  int
	socks map[net.Conn]bool

	elapsed time.Duration
}

// New returns a manager for the given fleet.
func New(o Options) *Manager {
	o = setDefaults(o)
	var c cache.Cache
	if o.FIFOCache {
		c = cache.NewFIFO(o.CacheCapacity)
	} else {
		c = cache.NewLRU(o.CacheCapacity)
	}
	return &Manager{
		options: o,
		cache:   c,
		rng:     rand.New(rand.NewSource(o.Seed)),
		socks:   make(map[net.Conn]bool),
	}
}

// Run spawns the clients and waits for all of them. The spawn loop pauses
// briefly every tenth client so the fleet ramps up instead of stampeding.
func (m *Manager) Run() error {
	started := m.options.Clock.UtcNow()
	var group errgroup.Group
	for i := 0; i < m.options.Clients; i++ {
		if i > 0 && i%10 == 0 {
			time.Sleep(time.Second)
		}
		group.Go(m.runClient)
	}
	err := group.Wait()
	m.elapsed = m.options.Clock.UtcNow().Sub(started)
	m.printSummary()
	return err
}

// HitRate reports cache hits as a fraction of all clients run.
func (m *Manager) HitRate() float64 {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.options.Clients == 0 {
		return 0
	}
	return float64(m.hits) / float64(m.options.Clients)
}

// Interrupt closes every open client socket; the signal path of the
// generator binary.
func (m *Manager) Interrupt() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for conn := range m.socks {
		conn.Close()
	}
}

// runClient is one logical client: dial, one request, one response. A
// cache hit for the drawn request kind skips the network entirely.
func (m *Manager) runClient() error {
	endpoint := net.JoinHostPort(m.options.Host, m.options.Port)
	conn, err := net.Dial("tcp", endpoint)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %v", endpoint)
	}
	defer conn.Close()

	m.mtx.Lock()
	m.socks[conn] = true
	kind := m.rng.Intn(KindCount)
	if m.cache.Contains(kind) {
		if _, err := m.cache.Get(kind); err == nil {
			m.hits++
			delete(m.socks, conn)
			m.mtx.Unlock()
			log.Debugf("cache hit for request kind %v", kind)
			return nil
		}
	}
	m.mtx.Unlock()

	host, port, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		m.forget(conn)
		return errors.Wrap(err, "unusable local address")
	}
	req, err := buildRequest(kind, host, port)
	if err != nil {
		m.forget(conn)
		return err
	}
	if err := httpmsg.WriteFrame(conn, req.Marshal()); err != nil {
		m.forget(conn)
		return errors.Wrap(err, "failed to send request")
	}
	frame, err := httpmsg.ReadFrame(conn)
	if err != nil {
		m.forget(conn)
		return errors.Wrap(err, "failed to read response")
	}

	m.mtx.Lock()
	m.cache.Put(kind, frame)
	delete(m.socks, conn)
	m.mtx.Unlock()
	return nil
}

func (m *Manager) forget(conn net.Conn) {
	m.mtx.Lock()
	delete(m.socks, conn)
	m.mtx.Unlock()
}
