// Package balancer implements the dispatch core: it accepts client
// connections, relays each request to a worker chosen by the configured
// scheduling policy, and routes the worker's response back to the waiting
// client via the Target-IP/Target-Port headers. All state is owned by a
// single dispatcher goroutine; listeners, worker readers, the health
// ticker and the signal handler feed it events over channels.
package balancer

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mailgun/metrics"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
	"github.com/ChunxuTang/Load-Balancing-Server/sched"
)

const (
	// DefaultBindAddress and DefaultPort are the client-facing endpoint.
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = "60000"

	// DefaultWorkerPort is where workers advertise their control
	// endpoint.
	DefaultWorkerPort = "50000"

	// MaxRealServer bounds the well-known worker addresses probed at
	// startup: 127.0.0.2 through 127.0.0.(1+MaxRealServer).
	MaxRealServer = 3

	// DefaultHealthCheckInterval is the period of the worker probe.
	DefaultHealthCheckInterval = 30 * time.Second

	probeDialTimeout = 3 * time.Second
)

// Severity classifies the outcome of one dispatch-loop operation. Minor
// failures skip the event and keep serving; Fatal ones end the run.
type Severity int

const (
	Success Severity = iota
	Minor
	Fatal
)

// Options configures the balancer.
type Options struct {
	// Algorithm names the scheduling policy.
	Algorithm sched.Algorithm
	// BindAddress/Port form the client-facing endpoint.
	BindAddress string
	Port        string
	// WorkerAddrs lists worker addresses to probe. Defaults to the
	// well-known loopback range.
	WorkerAddrs []string
	// WorkerPort is the control port workers listen on.
	WorkerPort string
	// HealthCheckInterval is the period of the worker health probe.
	HealthCheckInterval time.Duration
	// Clock drives the health ticker. Defaults to the real clock.
	Clock clockwork.Clock
	// Metrics receives dispatch counters. Defaults to a no-op client.
	Metrics metrics.Client
}

func setDefaults(o Options) Options {
	if o.BindAddress == "" {
		o.BindAddress = DefaultBindAddress
	}
	if o.Port == "" {
		o.Port = DefaultPort
	}
	if o.WorkerPort == "" {
		o.WorkerPort = DefaultWorkerPort
	}
	if len(o.WorkerAddrs) == 0 {
		for i := 1; i <= MaxRealServer; i++ {
			o.WorkerAddrs = append(o.WorkerAddrs, fmt.Sprintf("127.0.0.%d", i+1))
		}
	}
	if o.HealthCheckInterval == 0 {
		o.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNop()
	}
	return o
}

// workerConn is a registered worker: its control connection and the load
// accounting the scheduler selects on.
type workerConn struct {
	id      int
	addr    string
	port    string
	maxLoad int
	curLoad int
	conn    net.Conn
}

// clientRequest is one accepted connection with its single request frame
// and the source endpoint extracted at accept time.
type clientRequest struct {
	conn  net.Conn
	addr  string
	port  string
	frame []byte
}

// workerEvent is one frame (or terminal error) from a worker's control
// connection.
type workerEvent struct {
	id    int
	frame []byte
	err   error
}

// WorkerStat is the externally visible state of one registered worker.
type WorkerStat struct {
	ID      int    `json:"id"`
	Addr    string `json:"addr"`
	Port    string `json:"port"`
	MaxLoad int    `json:"maxLoad"`
	CurLoad int    `json:"curLoad"`
}

// Stats is a snapshot of the dispatch core.
type Stats struct {
	Algorithm string       `json:"algorithm"`
	Workers   []WorkerStat `json:"workers"`
	Pending   int          `json:"pending"`
}

// T is the balancer. Create with New, drive with Run.
type T struct {
	options  Options
	selector *sched.Selector

	listener net.Listener
	workers  map[int]*workerConn
	nextID   int
	pending  *pendingIndex

	clientC   chan clientRequest
	workerC   chan workerEvent
	signalC   chan os.Signal
	statsReqC chan chan Stats
	stopC     chan struct{}
	stopOnce  sync.Once

	run      bool
	fatalErr error
}

// New instantiates the scheduling policy and returns a balancer ready to
// Run.
func New(o Options) (*T, error) {
	o = setDefaults(o)
	selector, err := sched.NewSelector(o.Algorithm)
	if err != nil {
		return nil, err
	}
	return &T{
		options:   o,
		selector:  selector,
		workers:   make(map[int]*workerConn),
		nextID:    1,
		pending:   newPendingIndex(),
		clientC:   make(chan clientRequest),
		workerC:   make(chan workerEvent),
		signalC:   make(chan os.Signal, 1),
		statsReqC: make(chan chan Stats),
		stopC:     make(chan struct{}),
	}, nil
}

// Addr returns the bound client endpoint once Run is listening.
func (b *T) Addr() net.Addr {
	return b.listener.Addr()
}

// Run brings the balancer up in the startup order the design requires:
// signals, worker probing, the health timer, then the client listener. It
// serves until a signal, Stop, or a fatal error.
func (b *T) Run() error {
	signal.Notify(b.signalC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(b.signalC)

	if err := b.connectWorkers(); err != nil {
		return err
	}

	ticker := b.options.Clock.NewTicker(b.options.HealthCheckInterval)
	defer ticker.Stop()

	addr := net.JoinHostPort(b.options.BindAddress, b.options.Port)
	lsn, err := net.Listen("tcp", addr)
	if err != nil {
		b.closeWorkers()
		return errors.Wrapf(err, "failed to listen on %v", addr)
	}
	b.listener = lsn
	go b.acceptLoop()

	log.Infof("balancer serving on %v with policy %v and %v workers",
		lsn.Addr(), b.selector.Algorithm(), len(b.workers))
	b.dumpWorkers()

	b.run = true
	for b.run {
		select {
		case cr := <-b.clientC:
			if b.handleClientRequest(cr) == Fatal {
				b.run = false
			}
		case ev := <-b.workerC:
			if b.handleWorkerEvent(ev) == Fatal {
				b.run = false
			}
		case <-ticker.Chan():
			if b.healthCheck() == Fatal {
				b.run = false
			}
		case sig := <-b.signalC:
			log.Infof("caught signal %v, shutting down", sig)
			b.run = false
		case replyC := <-b.statsReqC:
			replyC <- b.stats()
		case <-b.stopC:
			b.run = false
		}
	}
	b.teardown()
	return b.fatalErr
}

// Stop makes Run return after an orderly teardown.
func (b *T) Stop() {
	b.stopOnce.Do(func() { close(b.stopC) })
}

// Snapshot asks the dispatcher for current pool state; used by the status
// API and tests.
func (b *T) Snapshot() Stats {
	replyC := make(chan Stats, 1)
	select {
	case b.statsReqC <- replyC:
		return <-replyC
	case <-b.stopC:
		return Stats{}
	}
}

func (b *T) stats() Stats {
	st := Stats{Algorithm: string(b.selector.Algorithm()), Pending: b.pending.len()}
	for _, id := range b.workerIDs() {
		w := b.workers[id]
		st.Workers = append(st.Workers, WorkerStat{
			ID: w.id, Addr: w.addr, Port: w.port, MaxLoad: w.maxLoad, CurLoad: w.curLoad,
		})
	}
	return st
}

// connectWorkers probes the well-known worker endpoints with SERVERCHECK,
// registering every worker that answers with its capacity. Zero reachable
// workers is fatal.
func (b *T) connectWorkers() error {
	for _, addr := range b.options.WorkerAddrs {
		endpoint := net.JoinHostPort(addr, b.options.WorkerPort)
		conn, err := net.DialTimeout("tcp", endpoint, probeDialTimeout)
		if err != nil {
			log.Warningf("worker %v is unreachable: %v", endpoint, err)
			continue
		}
		maxLoad, err := b.serverCheck(conn, addr)
		if err != nil {
			log.Warningf("worker %v failed the capacity probe: %v", endpoint, err)
			conn.Close()
			continue
		}
		w := &workerConn{
			id:      b.nextID,
			addr:    addr,
			port:    b.options.WorkerPort,
			maxLoad: maxLoad,
			conn:    conn,
		}
		b.nextID++
		b.workers[w.id] = w
		go b.readWorker(w)
		log.Infof("registered worker %v with max load %v", endpoint, maxLoad)
	}
	if len(b.workers) == 0 {
		return errors.New("no worker is available")
	}
	return nil
}

// serverCheck issues the SERVERCHECK probe on a fresh control connection
// and parses the worker's capacity out of the response body.
func (b *T) serverCheck(conn net.Conn, addr string) (int, error) {
	req := httpmsg.NewRequest(httpmsg.MethodServerCheck, addr).
		AddHeader(httpmsg.HdrHost, addr).
		WithSource(b.options.BindAddress, b.options.Port)
	if err := httpmsg.WriteFrame(conn, req.Marshal()); err != nil {
		return 0, err
	}
	frame, err := httpmsg.ReadFrame(conn)
	if err != nil {
		return 0, errors.Wrap(err, "no SERVERCHECK response")
	}
	resp, err := httpmsg.ParseResponse(frame)
	if err != nil {
		return 0, err
	}
	if resp.Code != httpmsg.StatusOK {
		return 0, errors.Errorf("SERVERCHECK answered %v", resp.Code)
	}
	maxLoad, err := strconv.Atoi(resp.Body)
	if err != nil {
		return 0, errors.Wrapf(err, "bad capacity %q in SERVERCHECK response", resp.Body)
	}
	return maxLoad, nil
}

// readWorker feeds one worker's control-connection frames to the
// dispatcher until the connection dies.
func (b *T) readWorker(w *workerConn) {
	for {
		frame, err := httpmsg.ReadFrame(w.conn)
		ev := workerEvent{id: w.id, frame: frame, err: err}
		select {
		case b.workerC <- ev:
		case <-b.stopC:
			return
		}
		if err != nil {
			return
		}
	}
}

// acceptLoop accepts client connections and reads the single request each
// carries. The read happens off the dispatcher goroutine so a slow client
// cannot stall dispatch.
func (b *T) acceptLoop() {
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-b.stopC:
			default:
				log.Errorf("accept failed: %v", err)
			}
			return
		}
		go b.readClient(conn)
	}
}

// readClient reads one request frame and resolves the client's source
// endpoint. The name "localhost" is folded to 127.0.0.1 so it matches the
// routing headers workers echo back.
func (b *T) readClient(conn net.Conn) {
	frame, err := httpmsg.ReadFrame(conn)
	if err != nil {
		log.Warningf("failed to read a request from %v: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	host, port, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		log.Warningf("unusable client address %v: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}
	select {
	case b.clientC <- clientRequest{conn: conn, addr: host, port: port, frame: frame}:
	case <-b.stopC:
		conn.Close()
	}
}

// workerIDs returns registered worker ids in ascending order.
func (b *T) workerIDs() []int {
	ids := make([]int, 0, len(b.workers))
	for id := range b.workers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (b *T) schedulerState(handleIP string) sched.State {
	state := sched.State{Backends: make(map[int]sched.Backend, len(b.workers)), HandleIP: handleIP}
	for id, w := range b.workers {
		state.Backends[id] = sched.Backend{
			Addr: w.addr, Port: w.port, MaxLoad: w.maxLoad, CurLoad: w.curLoad,
		}
	}
	return state
}

// handleClientRequest selects a worker for one request and relays the raw
// frame, or synthesizes the error response the policy outcome calls for.
func (b *T) handleClientRequest(cr clientRequest) Severity {
	span := opentracing.StartSpan("dispatch")
	defer span.Finish()
	span.SetTag("client.addr", cr.addr)
	span.SetTag("client.port", cr.port)

	if len(b.workers) == 0 {
		b.fatalErr = errors.New("no registered workers remain")
		return Fatal
	}
	id := b.selector.Select(b.schedulerState(cr.addr))
	switch id {
	case sched.NoBackend:
		log.Warningf("no worker has spare capacity, answering 503")
		b.options.Metrics.Inc("dispatch.saturated", 1, 1)
		span.SetTag("outcome", "saturated")
		b.respondDirectly(cr, httpmsg.StatusServiceUnavailable)
		return Minor
	case sched.BadAddress:
		log.Warningf("malformed address %q for the hashing policy, answering 500", cr.addr)
		b.options.Metrics.Inc("dispatch.badaddress", 1, 1)
		span.SetTag("outcome", "bad-address")
		b.respondDirectly(cr, httpmsg.StatusInternalError)
		return Minor
	}

	w := b.workers[id]
	if err := httpmsg.WriteFrame(w.conn, cr.frame); err != nil {
		log.Errorf("failed to relay to worker %v, demoting it: %v", w.addr, err)
		b.options.Metrics.Inc("worker.demoted", 1, 1)
		b.deregisterWorker(w.id)
		cr.conn.Close()
		if len(b.workers) == 0 {
			b.fatalErr = errors.New("the last worker is gone")
			return Fatal
		}
		return Minor
	}
	w.curLoad++
	b.pending.add(&pendingReq{conn: cr.conn, addr: cr.addr, port: cr.port})
	b.options.Metrics.Inc("dispatch.relayed", 1, 1)
	span.SetTag("worker.id", id)
	return Success
}

// respondDirectly answers a client from the balancer itself, used for the
// 503/500 paths where no worker is involved.
func (b *T) respondDirectly(cr clientRequest, code int) {
	resp := httpmsg.NewResponse(code, cr.addr, cr.port)
	if err := httpmsg.WriteFrame(cr.conn, resp.Marshal()); err != nil {
		log.Warningf("failed to answer client %v:%v: %v", cr.addr, cr.port, err)
	}
	cr.conn.Close()
}

// handleWorkerEvent routes one worker response to the client whose
// routing pair it carries, or deregisters a worker whose control
// connection died.
func (b *T) handleWorkerEvent(ev workerEvent) Severity {
	w, ok := b.workers[ev.id]
	if !ok {
		return Minor
	}
	if ev.err != nil {
		log.Errorf("lost worker %v: %v", w.addr, ev.err)
		b.options.Metrics.Inc("worker.lost", 1, 1)
		b.deregisterWorker(ev.id)
		if len(b.workers) == 0 {
			b.fatalErr = errors.New("the last worker is gone")
			return Fatal
		}
		return Minor
	}

	resp, err := httpmsg.ParseResponse(ev.frame)
	if err != nil {
		log.Warningf("unparseable response from worker %v: %v", w.addr, err)
		return Minor
	}
	req := b.pending.take(resp.TargetIP(), resp.TargetPort())
	if req == nil {
		// A worker child died mid-request or a health probe answered;
		// nobody is waiting for this frame.
		log.Debugf("no pending request for %v:%v", resp.TargetIP(), resp.TargetPort())
		return Minor
	}
	if err := httpmsg.WriteFrame(req.conn, ev.frame); err != nil {
		log.Warningf("failed to forward response to %v:%v: %v", req.addr, req.port, err)
	}
	req.conn.Close()
	if w.curLoad > 0 {
		w.curLoad--
	}
	b.options.Metrics.Inc("dispatch.completed", 1, 1)
	return Success
}

// deregisterWorker drops a worker from the pool and closes its control
// connection.
func (b *T) deregisterWorker(id int) {
	w, ok := b.workers[id]
	if !ok {
		return
	}
	w.conn.Close()
	delete(b.workers, id)
	b.dumpWorkers()
}

func (b *T) closeWorkers() {
	for id := range b.workers {
		b.deregisterWorker(id)
	}
}

// teardown releases every resource the dispatcher owns: client listener,
// worker connections, and any client still waiting for a response.
func (b *T) teardown() {
	b.Stop()
	if b.listener != nil {
		b.listener.Close()
	}
	for _, req := range b.pending.drain() {
		req.conn.Close()
	}
	b.closeWorkers()
	log.Infof("balancer shut down")
}
