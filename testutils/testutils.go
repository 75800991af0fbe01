// Package testutils holds fixtures shared by the package tests: free
// loopback endpoints, ready-to-serve workers and balancers, and a raw
// frame client.
package testutils

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ChunxuTang/Load-Balancing-Server/balancer"
	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
	"github.com/ChunxuTang/Load-Balancing-Server/sched"
	"github.com/ChunxuTang/Load-Balancing-Server/worker"
)

// DownloadBody is the content of the download fixture every docroot gets.
const DownloadBody = "message to download\n"

// FreePort grabs an ephemeral port from the kernel and releases it for
// the caller to bind.
func FreePort(t *testing.T) string {
	t.Helper()
	lsn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lsn.Close()
	_, port, err := net.SplitHostPort(lsn.Addr().String())
	require.NoError(t, err)
	return port
}

// MakeDocroot prepares a directory with the files the load generator's
// request mix operates on.
func MakeDocroot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "download.txt"), []byte(DownloadBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "delete.txt"), []byte("doomed\n"), 0o644))
	return dir
}

// WorkerFixture is a worker serving on a loopback address with chaos
// exits disabled, ready for a balancer to probe.
type WorkerFixture struct {
	Sup     *worker.Supervisor
	Addr    string
	Port    string
	Docroot string
}

// StartWorker binds a worker on the address, runs it in the background
// and registers its teardown with the test.
func StartWorker(t *testing.T, addr, port string, maxChildren int) *WorkerFixture {
	t.Helper()
	docroot := MakeDocroot(t)
	sup, err := worker.New(worker.Options{
		Addr:             addr,
		Port:             port,
		MaxChildren:      maxChildren,
		ChaosDenominator: -1,
		Docroot:          docroot,
		Clock:            clockwork.NewRealClock(),
	})
	require.NoError(t, err)
	require.NoError(t, sup.Listen())
	go sup.Run()
	t.Cleanup(sup.Stop)
	return &WorkerFixture{Sup: sup, Addr: addr, Port: port, Docroot: docroot}
}

// StartBalancer runs a balancer over the given workers and blocks until
// its dispatcher is serving.
func StartBalancer(t *testing.T, algo sched.Algorithm, workerAddrs []string, workerPort string) *balancer.T {
	t.Helper()
	b, err := balancer.New(balancer.Options{
		Algorithm:           algo,
		BindAddress:         "127.0.0.1",
		Port:                FreePort(t),
		WorkerAddrs:         workerAddrs,
		WorkerPort:          workerPort,
		HealthCheckInterval: time.Hour,
	})
	require.NoError(t, err)
	go b.Run()
	t.Cleanup(b.Stop)

	readyC := make(chan balancer.Stats, 1)
	go func() { readyC <- b.Snapshot() }()
	select {
	case st := <-readyC:
		require.NotEmpty(t, st.Workers, "balancer registered no workers")
	case <-time.After(10 * time.Second):
		t.Fatalf("balancer did not come up")
	}
	return b
}

// Exchange dials an endpoint, sends one request frame and reads the
// response frame, the way one generated client does.
func Exchange(t *testing.T, addr string, req *httpmsg.Request) *httpmsg.Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, port, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	req.WithSource("127.0.0.1", port)

	require.NoError(t, httpmsg.WriteFrame(conn, req.Marshal()))
	frame, err := httpmsg.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := httpmsg.ParseResponse(frame)
	require.NoError(t, err)
	return resp
}
