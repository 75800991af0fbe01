// Package service wires the balancer daemon together: command line,
// logging, the PID lock, metrics, the status API and the dispatch core
// itself.
package service

import (
	"net"
	"net/http"
	"time"

	"github.com/mailgun/metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/api"
	"github.com/ChunxuTang/Load-Balancing-Server/balancer"
	"github.com/ChunxuTang/Load-Balancing-Server/pidfile"
)

// Run is the daemon entry point: parse the command line, take the PID
// lock, bring up the balancer and serve until it exits.
func Run() error {
	options, err := ParseCommandLine()
	if err != nil {
		return errors.Wrap(err, "failed to parse command line")
	}
	return run(options)
}

func run(options Options) error {
	if err := initLogging(options); err != nil {
		return err
	}

	pid, err := pidfile.Acquire(options.PidPath)
	if err != nil {
		return errors.Wrap(err, "another balancer instance may be running")
	}
	defer pid.Close()

	mtx, err := initMetrics(options)
	if err != nil {
		return err
	}

	b, err := balancer.New(balancer.Options{
		Algorithm:           options.Algorithm,
		BindAddress:         options.Interface,
		Port:                options.Port,
		WorkerPort:          options.WorkerPort,
		HealthCheckInterval: options.HealthCheckInterval,
		Metrics:             mtx,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create the balancer")
	}

	if options.ApiPort != "" {
		go startApi(options, b)
	}

	return b.Run()
}

// initLogging configures logrus the way the error design requires: every
// entry carries its caller so failures read as file/function/line.
func initLogging(options Options) error {
	level, err := log.ParseLevel(options.LogSeverity)
	if err != nil {
		return errors.Wrapf(err, "bad log severity %q", options.LogSeverity)
	}
	log.SetLevel(level)
	log.SetReportCaller(true)
	if options.Log == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}

func initMetrics(options Options) (metrics.Client, error) {
	if options.StatsdAddr == "" {
		return metrics.NewNop(), nil
	}
	client, err := metrics.New(options.StatsdAddr, options.StatsdPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to statsd")
	}
	return client, nil
}

// startApi serves the read-only status API beside the dispatch core.
func startApi(options Options, b *balancer.T) {
	addr := net.JoinHostPort(options.ApiInterface, options.ApiPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewHandler(b),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	log.Infof("status API on %v", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Errorf("status API exited: %v", err)
	}
}
