package service

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ChunxuTang/Load-Balancing-Server/balancer"
	"github.com/ChunxuTang/Load-Balancing-Server/sched"
)

// Options is everything the balancer daemon is configured with. The
// scheduling algorithm is the single positional argument; the rest are
// flags with workable defaults.
type Options struct {
	Algorithm sched.Algorithm

	Interface string
	Port      string

	WorkerPort string

	PidPath string

	ApiInterface string
	ApiPort      string

	HealthCheckInterval time.Duration

	Log         string
	LogSeverity string

	StatsdAddr   string
	StatsdPrefix string
}

// DefaultPidPath keeps the single-instance lock next to the daemon.
const DefaultPidPath = "BalancerPidFile.txt"

func validateOptions(o Options) (Options, error) {
	algo, err := sched.ParseAlgorithm(string(o.Algorithm))
	if err != nil {
		return o, err
	}
	o.Algorithm = algo
	return o, nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %v [flags] <scheduling algorithm>\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "RR:  Round Robin")
	fmt.Fprintln(os.Stderr, "WRR: Weighted Round Robin")
	fmt.Fprintln(os.Stderr, "LC:  Least Connection")
	fmt.Fprintln(os.Stderr, "WLC: Weighted Least Connection (recommended)")
	fmt.Fprintln(os.Stderr, "DH:  Destination Hashing")
	fmt.Fprintln(os.Stderr, "SH:  Source Hashing")
	flag.PrintDefaults()
}

// ParseCommandLine reads the daemon configuration from flags and the
// positional algorithm argument.
func ParseCommandLine() (options Options, err error) {
	flag.StringVar(&options.Interface, "interface", balancer.DefaultBindAddress, "Interface to bind to")
	flag.StringVar(&options.Port, "port", balancer.DefaultPort, "Port to listen on for clients")
	flag.StringVar(&options.WorkerPort, "workerPort", balancer.DefaultWorkerPort, "Port workers listen on")
	flag.StringVar(&options.PidPath, "pidPath", DefaultPidPath, "Path of the PID lock file")
	flag.StringVar(&options.ApiInterface, "apiInterface", balancer.DefaultBindAddress, "Interface for the status API")
	flag.StringVar(&options.ApiPort, "apiPort", "", "Port for the status API; empty disables it")
	flag.DurationVar(&options.HealthCheckInterval, "healthCheckInterval",
		balancer.DefaultHealthCheckInterval, "Period of the worker health check")
	flag.StringVar(&options.Log, "log", "console", "Log format (console or json)")
	flag.StringVar(&options.LogSeverity, "logSeverity", "info", "Log at or above this level")
	flag.StringVar(&options.StatsdAddr, "statsdAddr", "", "Statsd address in form of 'host:port'")
	flag.StringVar(&options.StatsdPrefix, "statsdPrefix", "balancer", "Prefix for emitted metrics")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		return options, fmt.Errorf("missing the scheduling algorithm argument")
	}
	options.Algorithm = sched.Algorithm(flag.Arg(0))
	return validateOptions(options)
}
