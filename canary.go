// Package blockwatch detects when a message loop goroutine stays busy with
// one unit of work for longer than a threshold, and reports the stack and CPU
// samples taken while it was stuck.
package blockwatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"blockwatch/monitor"
	"blockwatch/report"
	"blockwatch/sampler"
)

// ErrNotStarted is returned by Stop when the canary is not installed.
var ErrNotStarted = errors.New("blockwatch: not started")

// Installer is a message loop that accepts a boundary hook.
type Installer interface {
	SetBoundaryHook(monitor.BoundaryHook)
}

// Canary wires samplers, the dispatch monitor and report assembly together.
type Canary struct {
	cfg Config
	log *zap.Logger

	samplerLoop *sampler.Loop
	reportLoop  *sampler.Loop

	stack   *sampler.StackSampler
	cpu     *sampler.CPUSampler
	monitor *monitor.Monitor
	debug   *monitor.DebugWatcher

	env    *report.EnvironmentProbe
	filter *report.Filter
	writer *report.Writer

	mu           sync.Mutex
	installed    Installer
	interceptors []report.Interceptor

	blocks    atomic.Uint64
	filtered  atomic.Uint64
	lastBlock atomic.Int64
}

// New builds a canary that samples the goroutine target. Nothing is observed
// until Start.
func New(cfg Config, target sampler.GoroutineID) (*Canary, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	source := cfg.Source
	if source == nil {
		ps, err := sampler.NewPsutilSource(context.Background(), 0)
		if err != nil {
			return nil, fmt.Errorf("cpu counter source: %w", err)
		}
		source = ps
	}

	c := &Canary{
		cfg:         cfg,
		log:         log.Named("canary"),
		samplerLoop: sampler.NewLoop("blockwatch-loop", 0, log),
		reportLoop:  sampler.NewLoop("blockwatch-writer", 0, log),
		env:         report.NewEnvironmentProbe(log),
		filter: &report.Filter{
			ConcernPackages:  cfg.ConcernPackages,
			FilterNonConcern: cfg.FilterNonConcernStack,
			WhiteList:        cfg.WhiteList,
		},
	}

	c.stack = sampler.NewStackSampler(c.samplerLoop, target, sampler.StackOptions{
		Capacity:   cfg.StackCapacity,
		Interval:   cfg.SampleInterval(),
		StartDelay: cfg.SampleDelay(),
		Logger:     log,
	})
	c.cpu = sampler.NewCPUSampler(c.samplerLoop, source, sampler.CPUOptions{
		Capacity:   cfg.CPUCapacity,
		Interval:   cfg.SampleInterval(),
		StartDelay: cfg.SampleDelay(),
		Logger:     log,
	})

	debugging := cfg.Debugging
	if debugging == nil && cfg.StopWhenDebugging {
		c.debug = monitor.NewDebugWatcher(nil, time.Second)
		debugging = c.debug.Attached
	}

	c.monitor = monitor.New(monitor.Config{
		Threshold:         cfg.BlockThreshold(),
		StopWhenDebugging: cfg.StopWhenDebugging,
		Debugging:         debugging,
		Duration:          cfg.MonitorDuration(),
		Samplers:          []monitor.Sampler{c.stack, c.cpu},
		Listener:          c,
		Dispatcher:        c.reportLoop,
		Logger:            log,
	})

	if cfg.ReportDir != "" {
		c.writer = report.NewWriter(cfg.ReportDir, log)
		c.interceptors = append(c.interceptors, c.writer)
	}
	return c, nil
}

func (c *Canary) Config() Config {
	return c.cfg
}

func (c *Canary) Monitor() *monitor.Monitor {
	return c.monitor
}

func (c *Canary) StackSampler() *sampler.StackSampler {
	return c.stack
}

func (c *Canary) CPUSampler() *sampler.CPUSampler {
	return c.cpu
}

// Writer returns the report writer, or nil when no report dir is configured.
func (c *Canary) Writer() *report.Writer {
	return c.writer
}

// AddInterceptor registers i to receive every report that passes the filter.
func (c *Canary) AddInterceptor(i report.Interceptor) {
	c.mu.Lock()
	c.interceptors = append(c.interceptors, i)
	c.mu.Unlock()
}

// Start installs the monitor on loop. Starting again moves it to the new
// loop.
func (c *Canary) Start(loop Installer) {
	c.mu.Lock()
	prev := c.installed
	c.installed = loop
	c.mu.Unlock()

	if prev != nil && prev != loop {
		prev.SetBoundaryHook(nil)
	}
	loop.SetBoundaryHook(c.monitor)

	if c.writer != nil {
		retention := c.cfg.Retention()
		c.reportLoop.TryPost(func() {
			if n, err := c.writer.CleanObsolete(retention); err != nil {
				c.log.Warn("clean obsolete reports", zap.Error(err))
			} else if n > 0 {
				c.log.Info("removed obsolete reports", zap.Int("count", n))
			}
		})
	}
	c.log.Info("monitoring started",
		zap.Duration("threshold", c.monitor.Threshold()),
		zap.Duration("interval", c.stack.Interval()),
		zap.Int64("goroutine", int64(c.stack.Target())))
}

// Stop removes the monitor from its loop and halts sampling.
func (c *Canary) Stop() error {
	c.mu.Lock()
	loop := c.installed
	c.installed = nil
	c.mu.Unlock()

	if loop == nil {
		return ErrNotStarted
	}
	loop.SetBoundaryHook(nil)
	c.stack.Stop()
	c.cpu.Stop()
	c.log.Info("monitoring stopped")
	return nil
}

// Close stops monitoring and waits for pending reports to be written.
func (c *Canary) Close() {
	_ = c.Stop()
	if c.debug != nil {
		c.debug.Close()
	}
	c.samplerLoop.Close()
	c.reportLoop.Close()
}

// Stats returns how many blocks were detected and how many of those were
// filtered out before reaching the interceptors.
func (c *Canary) Stats() (blocks, filtered uint64) {
	return c.blocks.Load(), c.filtered.Load()
}

// LastBlockDuration returns the duration of the most recent block.
func (c *Canary) LastBlockDuration() time.Duration {
	return time.Duration(c.lastBlock.Load())
}

// OnBlockEvent assembles the report for e and hands it to the interceptors.
// It runs on the reporting loop.
func (c *Canary) OnBlockEvent(e monitor.BlockEvent) {
	c.blocks.Add(1)
	c.lastBlock.Store(int64(e.Duration()))

	info := c.BuildInfo(e)
	c.log.Info("block detected",
		zap.Time("start", e.WallStart),
		zap.Duration("duration", e.Duration()),
		zap.Duration("thread_time", e.ThreadTime()),
		zap.Bool("cpu_busy", info.CPUBusy),
		zap.Int("stacks", len(info.Stacks)))

	if !c.filter.Allow(info) {
		c.filtered.Add(1)
		c.log.Debug("block report filtered", zap.String("key_frame", c.filter.KeyFrame(info)))
		return
	}

	c.mu.Lock()
	interceptors := append([]report.Interceptor(nil), c.interceptors...)
	c.mu.Unlock()

	for _, i := range interceptors {
		c.deliver(i, info)
	}
}

// BuildInfo collects the samples overlapping e into a report.
func (c *Canary) BuildInfo(e monitor.BlockEvent) *report.BlockInfo {
	info := &report.BlockInfo{
		Qualifier:      c.cfg.Qualifier,
		UID:            c.cfg.UID,
		Network:        c.cfg.Network,
		Start:          e.WallStart,
		End:            e.WallEnd,
		ThreadTimeCost: e.ThreadTime(),
		CPUBusy:        c.cpu.IsBusy(e.WallStart, e.WallEnd),
		CPURateInfo:    c.cpu.RateInfo(),
		Stacks:         c.stack.TraceEntriesBetween(e.WallStart, e.WallEnd),
	}
	c.env.Fill(context.Background(), info)
	return info
}

func (c *Canary) deliver(i report.Interceptor, info *report.BlockInfo) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("interceptor panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	i.OnBlock(info)
}
