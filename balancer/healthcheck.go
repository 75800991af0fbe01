package balancer

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/httpmsg"
)

// healthCheck probes every registered worker with OPTIONS. The round is
// skipped while any request is in flight so load accounting stays honest.
// A worker that cannot be written to is deregistered on the spot; one
// that stops answering is caught by its reader hitting EOF. An empty pool
// afterwards is fatal.
func (b *T) healthCheck() Severity {
	if b.pending.len() > 0 {
		log.Debugf("health check skipped, %v requests in flight", b.pending.len())
		return Minor
	}
	log.Infof("health checking %v workers", len(b.workers))
	b.options.Metrics.Inc("healthcheck.rounds", 1, 1)

	for _, id := range b.workerIDs() {
		w := b.workers[id]
		probe := httpmsg.NewRequest(httpmsg.MethodOptions, "*").
			AddHeader(httpmsg.HdrHost, w.addr).
			AddHeader(httpmsg.HdrAccept, "*").
			WithSource(b.options.BindAddress, b.options.Port)
		if err := httpmsg.WriteFrame(w.conn, probe.Marshal()); err != nil {
			log.Errorf("health check write to worker %v failed: %v", w.addr, err)
			b.options.Metrics.Inc("healthcheck.failed", 1, 1)
			b.deregisterWorker(id)
		}
	}
	if len(b.workers) == 0 {
		b.fatalErr = errors.New("health check emptied the worker pool")
		return Fatal
	}
	return Success
}
