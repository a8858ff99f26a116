// Command octopusmq runs the process-wide adapter pool: a shared
// message_queue fed and drained by one bridge adapter per configured UDP
// peer group, plus the local mqtt/dds stand-ins, all described by a single
// settings.json.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-envparse"
	"github.com/spf13/pflag"

	"github.com/octopus-mq/octopusmq/internal/adapter"
	"github.com/octopus-mq/octopusmq/internal/bridge"
	"github.com/octopus-mq/octopusmq/internal/bus"
	"github.com/octopus-mq/octopusmq/internal/config"
	"github.com/octopus-mq/octopusmq/internal/ddsstub"
	"github.com/octopus-mq/octopusmq/internal/logging"
	"github.com/octopus-mq/octopusmq/internal/metricsx"
	"github.com/octopus-mq/octopusmq/internal/mqttstub"
	"github.com/octopus-mq/octopusmq/internal/phy"
)

var opt struct {
	Help        bool
	Daemon      bool
	MetricsAddr string
	EnvFile     string
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
	pflag.BoolVar(&opt.Daemon, "daemon", false, "Detach logging to the configured log file only, suppressing console output")
	pflag.StringVar(&opt.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (disabled if empty)")
	pflag.StringVar(&opt.EnvFile, "env", "", "Optional env file overlaying process environment before startup")
}

func main() {
	pflag.Parse()

	if pflag.NArg() != 1 || opt.Help {
		fmt.Printf("usage: %s [options] <settings.json>\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	if opt.EnvFile != "" {
		if err := applyEnvFile(opt.EnvFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
	}

	resolved, err := config.Load(pflag.Arg(0), phy.SystemLister)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	logger, reopenLog, err := logging.New(resolved.Logging, opt.Daemon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: configure logging: %v\n", err)
		os.Exit(1)
	}

	set := metricsx.NewSet()
	busMetrics := metricsx.NewBus(set)

	queue := bus.NewQueue(0)
	queue.Dropped = func(env bus.Envelope) {
		busMetrics.Dropped.Inc()
		logging.Log(logger, logging.CategoryWarning, fmt.Sprintf("bus queue full, dropped message on topic %q from %q", env.Message.Topic, env.Origin))
	}

	pool := adapter.NewPool()
	var bridgeAdapters []*bridge.Adapter

	for _, bc := range resolved.Bridges {
		bm := metricsx.NewBridge(set, bc.Name)
		a := bridge.NewAdapter(bc.Name, bc, queue, bm, logger.With().Str("adapter", bc.Name).Logger())
		pool.Add(a)
		bridgeAdapters = append(bridgeAdapters, a)
	}
	for _, name := range resolved.MQTT {
		pool.Add(mqttstub.New(name, queue, logger.With().Str("adapter", name).Logger()))
	}
	for _, name := range resolved.DDS {
		pool.Add(ddsstub.New(name, queue, logger.With().Str("adapter", name).Logger()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hch := make(chan os.Signal, 1)
	signal.Notify(hch, syscall.SIGHUP)
	go func() {
		for range hch {
			logging.Log(logger, logging.CategoryInfo, "received SIGHUP, reopening log file")
			reopenLog()
		}
	}()

	if opt.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metricsx.WritePrometheus(w, set)
		})
		go func() {
			if err := http.ListenAndServe(opt.MetricsAddr, mux); err != nil {
				logging.Log(logger, logging.CategoryError, fmt.Sprintf("metrics server stopped: %v", err))
			}
		}()
		logging.Log(logger, logging.CategoryInfo, fmt.Sprintf("serving metrics on %s", opt.MetricsAddr))
	}

	var wg sync.WaitGroup
	for _, a := range pool.Adapters() {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Log(logger, logging.CategoryError, fmt.Sprintf("adapter %s exited: %v", a.Name(), err))
			}
		}()
	}

	if len(bridgeAdapters) > 0 {
		go peerSnapshotLoop(ctx, bridgeAdapters)
	}

	for ctx.Err() == nil {
		n := queue.DrainTimed(ctx, pool.All())
		if n > 0 {
			busMetrics.Drained.Add(n)
		}
	}

	pool.StopAll()
	wg.Wait()
	queue.Close()
}

func peerSnapshotLoop(ctx context.Context, adapters []*bridge.Adapter) {
	t := time.NewTicker(bridge.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, a := range adapters {
				a.PeerSnapshot()
			}
		}
	}
}

func applyEnvFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return err
	}
	for k, v := range m {
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}
