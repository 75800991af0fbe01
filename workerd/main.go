package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ChunxuTang/Load-Balancing-Server/worker"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %v [flags] <#max children> <bind address>\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		port        = flag.String("port", worker.DefaultPort, "Port of the control endpoint")
		preforked   = flag.Int("preforked", worker.Preforked, "Permanent handler pool size")
		idleTimeout = flag.Duration("idleTimeout", worker.DefaultIdleTimeout, "Idle timeout of temporary handlers")
		chaos       = flag.Int("chaos", worker.DefaultChaosDenominator, "1/N chance a handler exits after a request; 0 disables")
		docroot     = flag.String("docroot", ".", "Directory requests operate on")
		verbose     = flag.Bool("verbose", false, "Print the handler pool on every change")
		logSeverity = flag.String("logSeverity", "info", "Log at or above this level")
	)
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() < 2 {
		printUsage()
		os.Exit(1)
	}

	level, err := log.ParseLevel(*logSeverity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad log severity: %v\n", err)
		os.Exit(1)
	}
	log.SetLevel(level)
	log.SetReportCaller(true)

	maxChildren, err := strconv.Atoi(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad <#max children> argument: %v\n", err)
		os.Exit(1)
	}

	chaosDenominator := *chaos
	if chaosDenominator == 0 {
		chaosDenominator = -1
	}
	sup, err := worker.New(worker.Options{
		Addr:             flag.Arg(1),
		Port:             *port,
		MaxChildren:      maxChildren,
		Preforked:        *preforked,
		IdleTimeout:      *idleTimeout,
		ChaosDenominator: chaosDenominator,
		Docroot:          *docroot,
		Verbose:          *verbose,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Worker failed to start: %v\n", err)
		os.Exit(1)
	}

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalC
		log.Infof("caught signal %v, stopping", sig)
		sup.Stop()
	}()

	if err := sup.Run(); err != nil {
		fmt.Printf("Worker exited with error: %s\n", err)
		os.Exit(255)
	}
	fmt.Println("Worker exited gracefully")
}
