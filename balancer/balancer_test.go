package balancer

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
	"github.com/ChunxuTang/Load-Balancing-Server/sched"
)

// fakeWorker is a minimal stand-in for a worker's control endpoint: it
// accepts one connection, answers the SERVERCHECK probe with the given
// capacity and echoes a 200 for everything else, then optionally drops
// the connection after a number of responses.
type fakeWorker struct {
	lsn       net.Listener
	capacity  int
	dieAfter  int
	responded int
}

func startFakeWorker(t *testing.T, capacity, dieAfter int) *fakeWorker {
	t.Helper()
	lsn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lsn.Close() })

	w := &fakeWorker{lsn: lsn, capacity: capacity, dieAfter: dieAfter}
	go w.serve()
	return w
}

func (w *fakeWorker) port() string {
	_, port, _ := net.SplitHostPort(w.lsn.Addr().String())
	return port
}

func (w *fakeWorker) serve() {
	conn, err := w.lsn.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		frame, err := httpmsg.ReadFrame(conn)
		if err != nil {
			return
		}
		req, err := httpmsg.ParseRequest(frame)
		if err != nil {
			return
		}
		var resp *httpmsg.Response
		if req.Method == httpmsg.MethodServerCheck {
			resp = httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort())
			resp.Body = strconv.Itoa(w.capacity)
		} else {
			resp = httpmsg.NewResponse(httpmsg.StatusOK, req.SourceIP(), req.SourcePort()).
				WithBody("text/plain", "fake worker response")
		}
		if err := httpmsg.WriteFrame(conn, resp.Marshal()); err != nil {
			return
		}
		w.responded++
		if w.dieAfter > 0 && w.responded >= w.dieAfter {
			return
		}
	}
}

func testOptions(t *testing.T, algo sched.Algorithm, workerPort string) Options {
	t.Helper()
	lsn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, port, err := net.SplitHostPort(lsn.Addr().String())
	require.NoError(t, err)
	lsn.Close()
	return Options{
		Algorithm:           algo,
		BindAddress:         "127.0.0.1",
		Port:                port,
		WorkerAddrs:         []string{"127.0.0.1"},
		WorkerPort:          workerPort,
		HealthCheckInterval: time.Hour,
	}
}

func runBalancer(t *testing.T, b *T) <-chan error {
	t.Helper()
	errC := make(chan error, 1)
	go func() { errC <- b.Run() }()
	t.Cleanup(b.Stop)
	return errC
}

func waitServing(t *testing.T, b *T) Stats {
	t.Helper()
	statsC := make(chan Stats, 1)
	go func() { statsC <- b.Snapshot() }()
	select {
	case st := <-statsC:
		return st
	case <-time.After(10 * time.Second):
		t.Fatal("balancer did not come up")
		return Stats{}
	}
}

func TestRunFailsWithoutWorkers(t *testing.T) {
	// Nothing listens on the probed endpoint.
	b, err := New(testOptions(t, sched.WLC, "1"))
	require.NoError(t, err)
	err = b.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no worker")
}

func TestRegistersWorkerCapacity(t *testing.T) {
	w := startFakeWorker(t, 7, 0)
	b, err := New(testOptions(t, sched.WLC, w.port()))
	require.NoError(t, err)
	runBalancer(t, b)

	st := waitServing(t, b)
	require.Len(t, st.Workers, 1)
	assert.Equal(t, 7, st.Workers[0].MaxLoad)
	assert.Equal(t, 0, st.Workers[0].CurLoad)
	assert.Equal(t, "WLC", st.Algorithm)
}

// A worker with capacity one has no schedulable headroom, so the policy
// reports saturation and the balancer answers 503 itself.
func TestSaturatedPoolSynthesizes503(t *testing.T) {
	w := startFakeWorker(t, 1, 0)
	b, err := New(testOptions(t, sched.WLC, w.port()))
	require.NoError(t, err)
	runBalancer(t, b)
	waitServing(t, b)

	conn, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	req := httpmsg.NewRequest(httpmsg.MethodGet, "./download.txt").
		AddHeader(httpmsg.HdrHost, "localhost").
		AddHeader(httpmsg.HdrAccept, "*").
		WithSource("127.0.0.1", "44000")
	require.NoError(t, httpmsg.WriteFrame(conn, req.Marshal()))

	frame, err := httpmsg.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := httpmsg.ParseResponse(frame)
	require.NoError(t, err)
	assert.Equal(t, httpmsg.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "127.0.0.1", resp.TargetIP())
}

// Losing the control connection of the last worker ends the run with an
// error.
func TestLastWorkerLossIsFatal(t *testing.T) {
	// Dies after the probe response plus one relayed request.
	w := startFakeWorker(t, 5, 2)
	b, err := New(testOptions(t, sched.RR, w.port()))
	require.NoError(t, err)
	errC := runBalancer(t, b)
	waitServing(t, b)

	// The fake worker hangs up after its next response; relay one
	// request through to trigger that.
	conn, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	req := httpmsg.NewRequest(httpmsg.MethodGet, "./download.txt").
		AddHeader(httpmsg.HdrHost, "localhost").
		AddHeader(httpmsg.HdrAccept, "*").
		WithSource("127.0.0.1", "44001")
	require.NoError(t, httpmsg.WriteFrame(conn, req.Marshal()))

	select {
	case err := <-errC:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "worker")
	case <-time.After(10 * time.Second):
		t.Fatal("balancer did not notice the worker loss")
	}
}
