package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ChunxuTang/Load-Balancing-Server/client"
)

func main() {
	app := cli.NewApp()
	app.Name = "loadgen"
	app.Usage = "Generate concurrent clients against the balancer"
	app.ArgsUsage = "<#clients> <host> <port>"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "cacheCapacity", Value: client.DefaultCacheCapacity, Usage: "Response cache capacity"},
		cli.BoolFlag{Name: "fifo", Usage: "Use the FIFO cache instead of the LRU one"},
		cli.Int64Flag{Name: "seed", Usage: "Seed for the request-kind sequence; 0 seeds from the clock"},
		cli.StringFlag{Name: "logSeverity", Value: "info", Usage: "Log at or above this level"},
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Printf("Load generator exited with error: %s\n", err)
		os.Exit(255)
	}
}

func run(c *cli.Context) error {
	if c.NArg() < 3 {
		return cli.NewExitError("usage: loadgen <#clients> <host> <port>", 1)
	}
	level, err := log.ParseLevel(c.String("logSeverity"))
	if err != nil {
		return err
	}
	log.SetLevel(level)

	clients, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return fmt.Errorf("bad <#clients> argument: %v", err)
	}
	mgr := client.New(client.Options{
		Clients:       clients,
		Host:          c.Args().Get(1),
		Port:          c.Args().Get(2),
		CacheCapacity: c.Int("cacheCapacity"),
		FIFOCache:     c.Bool("fifo"),
		Seed:          c.Int64("seed"),
	})

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt)
	go func() {
		<-signalC
		log.Infof("interrupted, closing client sockets")
		mgr.Interrupt()
		os.Exit(0)
	}()

	return mgr.Run()
}
