// Command blockwatch runs a synthetic message loop under the block monitor.
// Every Nth message stalls the loop so reports can be inspected.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"blockwatch"
	"blockwatch/looper"
)

type options struct {
	configPath  string
	reportDir   string
	threshold   int
	interval    int
	messages    int
	every       int
	stall       time.Duration
	busy        bool
	metricsAddr string
	verbose     bool
}

func parseFlags() options {
	var o options
	defaultPath, _ := blockwatch.DefaultConfigPath()
	flag.StringVar(&o.configPath, "config", defaultPath, "path to JSON config")
	flag.StringVar(&o.reportDir, "dir", "", "directory for block reports (overrides config)")
	flag.IntVar(&o.threshold, "threshold", 0, "block threshold in ms (overrides config)")
	flag.IntVar(&o.interval, "interval", 0, "sample interval in ms (overrides config)")
	flag.IntVar(&o.messages, "messages", 50, "messages to dispatch, 0 runs until interrupted")
	flag.IntVar(&o.every, "every", 10, "stall on every Nth message")
	flag.DurationVar(&o.stall, "stall", 4*time.Second, "how long a stalled message takes")
	flag.BoolVar(&o.busy, "busy", false, "spin instead of sleeping while stalled")
	flag.StringVar(&o.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&o.verbose, "v", false, "verbose logging")
	flag.Parse()
	return o
}

func newLogger(verbose bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if verbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func main() {
	o := parseFlags()
	log := newLogger(o.verbose)
	defer log.Sync()

	if err := run(o, log); err != nil {
		log.Error("blockwatch failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(o options, log *zap.Logger) error {
	cfg, err := blockwatch.LoadConfig(o.configPath)
	if err != nil {
		log.Warn("using default config", zap.Error(err))
	}
	applyOverrides(&cfg, o)
	cfg.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := looper.New(0)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()
	<-loop.Started()

	canary, err := blockwatch.New(cfg, loop.Goroutine())
	if err != nil {
		loop.Quit()
		return err
	}
	defer canary.Close()

	canary.Start(loop)

	if o.metricsAddr != "" {
		srv := serveMetrics(o.metricsAddr, canary, log)
		defer srv.Shutdown(context.Background())
	}

	started := time.Now()
	err = feed(ctx, loop, o)
	loop.Quit()
	<-loopDone

	// Let the reporting context drain before summarising.
	canary.Close()
	fmt.Println(renderSummary(canary, time.Since(started)))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func applyOverrides(cfg *blockwatch.Config, o options) {
	if o.reportDir != "" {
		cfg.ReportDir = o.reportDir
	}
	if o.threshold > 0 {
		cfg.BlockThresholdMillis = o.threshold
	}
	if o.interval > 0 {
		cfg.SampleIntervalMillis = o.interval
	}
}

func serveMetrics(addr string, canary *blockwatch.Canary, log *zap.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(blockwatch.NewCollector(canary))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return srv
}

// feed posts synthetic messages and waits for each to finish before posting
// the next, so stalls line up with message numbers.
func feed(ctx context.Context, loop *looper.Looper, o options) error {
	for i := 1; o.messages == 0 || i <= o.messages; i++ {
		stalled := o.every > 0 && i%o.every == 0
		done := make(chan struct{})
		msg := func() {
			defer close(done)
			if stalled {
				stall(o.stall, o.busy)
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		if err := loop.Post(ctx, msg); err != nil {
			return err
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func stall(d time.Duration, busy bool) {
	if !busy {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	_ = x
}
