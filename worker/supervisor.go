// Package worker implements the request-serving side of the system: a
// supervisor that owns the single control connection from the balancer and
// a pool of handler children servicing requests. Children are goroutines
// joined to the supervisor by per-child control channels; the FREE/BUSY
// discipline, pool growth, idle reaping and replacement-on-death follow
// the pre-forking design the supervisor descends from.
package worker

import (
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
)

const (
	// Preforked is how many permanent handler children the supervisor
	// spawns before accepting work.
	Preforked = 5

	// DefaultPort is the advertised control endpoint port.
	DefaultPort = "50000"

	// DefaultIdleTimeout is how long a temporary child may sit idle
	// before it is reaped.
	DefaultIdleTimeout = 25 * time.Second

	// DefaultChaosDenominator makes a child exit after one request in N,
	// exercising the supervisor's recovery path. A negative
	// Options.ChaosDenominator disables it.
	DefaultChaosDenominator = 50
)

// Options configures a Supervisor.
type Options struct {
	// Addr is the address to advertise the control endpoint on.
	Addr string
	// Port of the control endpoint. Defaults to DefaultPort.
	Port string
	// MaxChildren caps the handler pool. Must be at least Preforked.
	MaxChildren int
	// Preforked is the permanent pool size. Defaults to Preforked.
	Preforked int
	// IdleTimeout reaps temporary children. Defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration
	// ChaosDenominator is the 1/N chance a child exits after a request.
	// Negative disables it; zero means DefaultChaosDenominator.
	ChaosDenominator int
	// Docroot is the directory requests operate on. Defaults to ".".
	Docroot string
	// Verbose prints the handler pool table on every pool change.
	Verbose bool
	// Clock drives the idle timers. Defaults to the real clock.
	Clock clockwork.Clock
}

func setDefaults(o Options) Options {
	if o.Port == "" {
		o.Port = DefaultPort
	}
	if o.Preforked == 0 {
		o.Preforked = Preforked
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.ChaosDenominator == 0 {
		o.ChaosDenominator = DefaultChaosDenominator
	}
	if o.ChaosDenominator < 0 {
		o.ChaosDenominator = 0
	}
	if o.Docroot == "" {
		o.Docroot = "."
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// childStatus tracks whether a handler child can take work. A child is
// Free exactly when it is blocked receiving on its control channel.
type childStatus int

const (
	Free childStatus = iota
	Busy
)

func (s childStatus) String() string {
	if s == Free {
		return "FREE"
	}
	return "BUSY"
}

// child is the supervisor's record of one handler. Children at an index
// below the preforked count are permanent and replaced when they die;
// higher indices are temporary and carry an idle timer.
type child struct {
	pid    int
	index  int
	status childStatus
	reqC   chan []byte
	timer  clockwork.Timer
	// timerStopC tears down the timer watch goroutine on reap.
	timerStopC chan struct{}
}

// completion is the record a child sends on finishing one request,
// announcing it is blocked on its control channel again.
type completion struct {
	pid   int
	index int
}

// exitNotice is sent by a child that terminates on its own. Routing death
// through the control path keeps recovery independent of any signal
// ordering.
type exitNotice struct {
	pid   int
	index int
}

type idleExpiry struct {
	pid   int
	index int
}

// Supervisor owns the control connection from the balancer and the
// handler pool.
type Supervisor struct {
	options   Options
	responder *Responder

	listener net.Listener
	upstream net.Conn
	// writeMtx serializes child writes on the shared upstream connection.
	writeMtx sync.Mutex

	// children is indexed by pool slot; nil slots are vacant.
	children      []*child
	childrenExist int
	nextPid       int

	requestC  chan []byte
	readErrC  chan error
	doneC     chan completion
	exitC     chan exitNotice
	idleC     chan idleExpiry
	statsReqC chan chan Stats
	stopC     chan struct{}
	stopOnce  sync.Once

	childWg sync.WaitGroup
}

// New validates the options and returns a supervisor ready to Run.
func New(o Options) (*Supervisor, error) {
	o = setDefaults(o)
	if o.MaxChildren < o.Preforked {
		return nil, errors.Errorf("max children %v is below the preforked pool size %v",
			o.MaxChildren, o.Preforked)
	}
	return &Supervisor{
		options:   o,
		responder: NewResponder(o.Docroot, o.MaxChildren),
		children:  make([]*child, o.MaxChildren),
		nextPid:   1,
		requestC:  make(chan []byte),
		readErrC:  make(chan error, 1),
		doneC:     make(chan completion),
		exitC:     make(chan exitNotice),
		idleC:     make(chan idleExpiry),
		statsReqC: make(chan chan Stats),
		stopC:     make(chan struct{}),
	}, nil
}

// Addr returns the bound control endpoint once Listen has succeeded.
func (s *Supervisor) Addr() net.Addr {
	return s.listener.Addr()
}

// Listen binds the control endpoint. Run calls it when it has not been
// called yet; callers that need the bound address first call it directly.
func (s *Supervisor) Listen() error {
	addr := net.JoinHostPort(s.options.Addr, s.options.Port)
	lsn, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %v", addr)
	}
	s.listener = lsn
	return nil
}

// Run accepts exactly one upstream connection, pre-spawns the permanent
// children and serves until Stop or a fatal error. It blocks for the
// lifetime of the worker.
func (s *Supervisor) Run() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.listener.Close()

	if err := s.acceptUpstream(); err != nil {
		return err
	}
	defer s.upstream.Close()

	for index := 0; index < s.options.Preforked; index++ {
		s.spawnChild(index, false)
	}
	log.Infof("worker %v serving with %v preforked children, pool limit %v",
		s.listener.Addr(), s.options.Preforked, s.options.MaxChildren)

	go s.readUpstream()
	err := s.loop()
	s.teardown()
	return err
}

// Stop makes Run return after an orderly teardown.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopC) })
}

// acceptUpstream waits for the single balancer connection. Everything the
// worker ever receives arrives on it.
func (s *Supervisor) acceptUpstream() error {
	type result struct {
		conn net.Conn
		err  error
	}
	acceptC := make(chan result, 1)
	go func() {
		conn, err := s.listener.Accept()
		acceptC <- result{conn, err}
	}()
	select {
	case r := <-acceptC:
		if r.err != nil {
			return errors.Wrap(r.err, "failed to accept the balancer connection")
		}
		s.upstream = r.conn
		log.Infof("balancer connected from %v", r.conn.RemoteAddr())
		return nil
	case <-s.stopC:
		return errors.New("stopped before the balancer connected")
	}
}

// readUpstream feeds control-connection frames into the supervisor loop.
func (s *Supervisor) readUpstream() {
	for {
		frame, err := httpmsg.ReadFrame(s.upstream)
		if err != nil {
			s.readErrC <- err
			return
		}
		select {
		case s.requestC <- frame:
		case <-s.stopC:
			return
		}
	}
}

// loop is the supervisor's event loop: requests from the balancer, child
// completions, child deaths, idle expiries and stop.
func (s *Supervisor) loop() error {
	for {
		select {
		case frame := <-s.requestC:
			s.dispatch(frame)
		case done := <-s.doneC:
			s.handleCompletion(done)
		case exit := <-s.exitC:
			s.handleExit(exit)
		case idle := <-s.idleC:
			s.handleIdleExpiry(idle)
		case replyC := <-s.statsReqC:
			replyC <- s.stats()
		case err := <-s.readErrC:
			return errors.Wrap(err, "lost the balancer connection")
		case <-s.stopC:
			return nil
		}
	}
}

// dispatch hands a request to the first free child in index order, growing
// the pool when every child is busy, or answers 503 once the pool is at
// its ceiling.
func (s *Supervisor) dispatch(frame []byte) {
	for _, c := range s.children {
		if c != nil && c.status == Free {
			c.reqC <- frame
			c.status = Busy
			return
		}
	}
	if s.childrenExist < s.options.MaxChildren {
		index := s.vacantSlot()
		c := s.spawnChild(index, true)
		log.Infof("pool is busy, spawned temporary child pid=%v index=%v", c.pid, c.index)
		c.reqC <- frame
		c.status = Busy
		if s.options.Verbose {
			s.dumpChildren()
		}
		return
	}
	log.Warningf("pool reached its limit of %v children, rejecting request", s.options.MaxChildren)
	s.writeSaturated(frame)
}

func (s *Supervisor) vacantSlot() int {
	for i := s.options.Preforked; i < len(s.children); i++ {
		if s.children[i] == nil {
			return i
		}
	}
	// Unreachable while childrenExist < MaxChildren.
	return len(s.children) - 1
}

// writeSaturated synthesizes the 503 the balancer relays when the pool is
// at its ceiling.
func (s *Supervisor) writeSaturated(frame []byte) {
	ip, port := "", ""
	if req, err := httpmsg.ParseRequest(frame); err == nil {
		ip, port = req.SourceIP(), req.SourcePort()
	}
	resp := httpmsg.NewResponse(httpmsg.StatusServiceUnavailable, ip, port)
	if err := s.writeUpstream(resp.Marshal()); err != nil {
		log.Errorf("failed to send 503 upstream: %v", err)
	}
}

func (s *Supervisor) writeUpstream(msg []byte) error {
	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()
	return httpmsg.WriteFrame(s.upstream, msg)
}

// handleCompletion marks the child free again and rearms its idle timer
// if it is temporary.
func (s *Supervisor) handleCompletion(done completion) {
	c := s.children[done.index]
	if c == nil || c.pid != done.pid {
		return
	}
	c.status = Free
	if c.timer != nil {
		c.timer.Reset(s.options.IdleTimeout)
	}
}

// handleExit recovers from a child that terminated on its own: permanent
// children are replaced in place, temporary ones are removed.
func (s *Supervisor) handleExit(exit exitNotice) {
	c := s.children[exit.index]
	if c == nil || c.pid != exit.pid {
		return
	}
	if exit.index < s.options.Preforked {
		log.Warningf("preforked child pid=%v index=%v died, replacing it", exit.pid, exit.index)
		s.removeChild(c)
		s.spawnChild(exit.index, false)
	} else {
		log.Warningf("temporary child pid=%v index=%v died", exit.pid, exit.index)
		s.removeChild(c)
	}
	if s.options.Verbose {
		s.dumpChildren()
	}
}

// handleIdleExpiry reaps a temporary child whose idle timer fired.
func (s *Supervisor) handleIdleExpiry(idle idleExpiry) {
	c := s.children[idle.index]
	if c == nil || c.pid != idle.pid || c.status != Free {
		return
	}
	log.Infof("temporary child pid=%v index=%v idled out", idle.pid, idle.index)
	s.removeChild(c)
	if s.options.Verbose {
		s.dumpChildren()
	}
}

// removeChild clears the slot, closes the control channel and stops the
// idle timer machinery. Closing the channel is what terminates a child
// that is still alive; for one that already exited it is a no-op.
func (s *Supervisor) removeChild(c *child) {
	close(c.reqC)
	if c.timer != nil {
		c.timer.Stop()
		close(c.timerStopC)
	}
	s.children[c.index] = nil
	s.childrenExist--
}

// spawnChild starts a handler goroutine in the given slot. Temporary
// children get an idle timer and a goroutine watching it.
func (s *Supervisor) spawnChild(index int, temporary bool) *child {
	c := &child{
		pid:    s.nextPid,
		index:  index,
		status: Free,
		reqC:   make(chan []byte, 1),
	}
	s.nextPid++
	if temporary {
		c.timer = s.options.Clock.NewTimer(s.options.IdleTimeout)
		c.timerStopC = make(chan struct{})
		go s.watchIdleTimer(c)
	}
	s.children[index] = c
	s.childrenExist++
	s.childWg.Add(1)
	go s.childWork(c)
	return c
}

// watchIdleTimer forwards timer expiries into the supervisor loop. The
// timer channel survives resets, so one watcher serves the child's whole
// lifetime.
func (s *Supervisor) watchIdleTimer(c *child) {
	for {
		select {
		case <-c.timer.Chan():
			select {
			case s.idleC <- idleExpiry{pid: c.pid, index: c.index}:
			case <-c.timerStopC:
				return
			case <-s.stopC:
				return
			}
		case <-c.timerStopC:
			return
		case <-s.stopC:
			return
		}
	}
}

// teardown closes every child control channel and waits for the pool to
// drain.
func (s *Supervisor) teardown() {
	s.Stop()
	for _, c := range s.children {
		if c == nil {
			continue
		}
		close(c.reqC)
		if c.timer != nil {
			c.timer.Stop()
			close(c.timerStopC)
		}
		s.children[c.index] = nil
	}
	s.childrenExist = 0
	s.childWg.Wait()
	log.Infof("worker shut down")
}

// Stats is a snapshot of the pool for logging and tests.
type Stats struct {
	ChildrenExist int
	ChildrenFree  int
}

// Snapshot asks the supervisor loop for current pool statistics. It
// blocks until the loop serves the request or the supervisor stops.
func (s *Supervisor) Snapshot() Stats {
	replyC := make(chan Stats, 1)
	select {
	case s.statsReqC <- replyC:
		return <-replyC
	case <-s.stopC:
		return Stats{}
	}
}

// stats must only be called from the supervisor loop; everyone else goes
// through Snapshot.
func (s *Supervisor) stats() Stats {
	st := Stats{}
	for _, c := range s.children {
		if c == nil {
			continue
		}
		st.ChildrenExist++
		if c.status == Free {
			st.ChildrenFree++
		}
	}
	return st
}
