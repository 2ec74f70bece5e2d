// Package server implements the supervisor: it wires the queue,
// processor, and collectors together, owns startup/shutdown ordering,
// and performs live reload without losing shelf state or flush cadence.
package server

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farzadghanei/navdoon/internal/collector"
	"github.com/farzadghanei/navdoon/internal/config"
	"github.com/farzadghanei/navdoon/internal/destination"
	"github.com/farzadghanei/navdoon/internal/processor"
	"github.com/farzadghanei/navdoon/internal/queue"
)

// Supervisor owns the lifecycle of one navdoon instance: the shared
// queue, the processor (shelf + flush), and the configured collectors.
type Supervisor struct {
	log *logrus.Logger

	mu         sync.Mutex
	cfg        config.Config
	q          *queue.Queue
	proc       *processor.Processor
	collectors []collector.Collector
	procCtx    context.Context
	procCancel context.CancelFunc
	procDone   chan struct{}

	running bool
}

// New creates a Supervisor. It does not start anything; call Start.
func New(log *logrus.Logger) *Supervisor {
	if log == nil {
		log = logrus.New()
	}
	return &Supervisor{log: log}
}

// Start builds the queue, processor, and collectors from cfg and
// brings them up in order: processor first (so the queue has a
// reader), then each configured collector, waiting for each stage to
// report readiness before moving on.
func (s *Supervisor) Start(cfg config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.q = queue.New(cfg.QueueCapacity)
	s.proc = processor.New(s.q, cfg.FlushInterval, s.log)

	dests, err := buildDestinations(cfg, s.log)
	if err != nil {
		return fmt.Errorf("build destinations: %w", err)
	}
	for _, d := range dests {
		s.proc.AddDestination(d)
	}

	s.procCtx, s.procCancel = context.WithCancel(context.Background())
	s.procDone = make(chan struct{})
	go func() {
		defer close(s.procDone)
		s.proc.Process(s.procCtx)
	}()

	if !s.proc.WaitUntilProcessing(cfg.ShutdownTimeout) {
		return fmt.Errorf("processor did not start within %s", cfg.ShutdownTimeout)
	}

	collectors, err := buildAndStartCollectors(cfg, s.q, s.log)
	if err != nil {
		s.proc.Shutdown()
		return fmt.Errorf("start collectors: %w", err)
	}
	s.collectors = collectors

	s.running = true
	s.log.Info("navdoon supervisor running")
	return nil
}

// buildAndStartCollectors binds every configured collector, waiting for
// each to report it is queuing requests before moving to the next. A
// bind failure here is fatal: the supervisor aborts startup and returns
// a non-zero condition to the caller.
func buildAndStartCollectors(cfg config.Config, q *queue.Queue, log *logrus.Logger) ([]collector.Collector, error) {
	var collectors []collector.Collector

	for _, hp := range cfg.CollectUDP {
		c := collector.NewUDP()
		opts := collector.Options{
			Host: hp.Host, Port: hp.Port,
			User: cfg.User, Group: cfg.Group,
			Queue: q, Log: log,
		}
		if err := startOne(c, opts, cfg.ShutdownTimeout); err != nil {
			stopAll(collectors, cfg.ShutdownTimeout)
			return nil, err
		}
		collectors = append(collectors, c)
	}

	for _, hp := range cfg.CollectTCP {
		c := collector.NewTCP()
		opts := collector.Options{
			Host: hp.Host, Port: hp.Port,
			User: cfg.User, Group: cfg.Group,
			InitialWorkers: cfg.CollectorThreads,
			MaxWorkers:     cfg.CollectorThreadsLimit,
			Queue:          q, Log: log,
		}
		if err := startOne(c, opts, cfg.ShutdownTimeout); err != nil {
			stopAll(collectors, cfg.ShutdownTimeout)
			return nil, err
		}
		collectors = append(collectors, c)
	}

	return collectors, nil
}

func startOne(c collector.Collector, opts collector.Options, readyTimeout time.Duration) error {
	if err := c.Configure(opts); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve() }()

	if c.WaitUntilQueuingRequests(readyTimeout) {
		return nil
	}

	// Either a bind error already surfaced, or we genuinely timed out;
	// either way, surface the concrete error if Serve has returned one.
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	default:
	}
	return fmt.Errorf("collector on %s:%d did not become ready within %s", opts.Host, opts.Port, readyTimeout)
}

func stopAll(collectors []collector.Collector, timeout time.Duration) {
	for _, c := range collectors {
		c.Shutdown(timeout)
	}
}

// Stop performs a graceful shutdown: collectors first (each closes its
// listening socket and waits for in-flight reads to finish), then the
// processor drains the queue and performs a final flush. timeout bounds
// each stage; on stage timeout the supervisor proceeds regardless but
// still attempts the final flush.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	for _, c := range s.collectors {
		c.Shutdown(timeout)
		if !c.WaitUntilShutdown(timeout) {
			s.log.Warn("collector shutdown timed out, proceeding")
		}
	}

	s.proc.Shutdown()
	select {
	case <-s.procDone:
	case <-time.After(timeout):
		s.log.Warn("processor shutdown timed out, proceeding")
		s.procCancel()
		<-s.procDone
	}

	s.running = false
	s.log.Info("navdoon supervisor stopped")
	return nil
}

// Reload applies cfg, as re-read by the caller, and swaps collectors and
// destinations in place: stop collectors, swap config, restart collectors. The
// processor and its shelf are left running throughout, so accumulated
// metrics and the last-flush timestamp are preserved verbatim and no
// flush is spuriously triggered or skipped.
func (s *Supervisor) Reload(cfg config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("cannot reload: supervisor is not running")
	}

	for _, c := range s.collectors {
		c.Shutdown(cfg.ShutdownTimeout)
	}

	s.cfg = cfg

	newDests, err := buildDestinations(cfg, s.log)
	if err != nil {
		return fmt.Errorf("build destinations: %w", err)
	}
	s.proc.ClearDestinations()
	for _, d := range newDests {
		s.proc.AddDestination(d)
	}

	collectors, err := buildAndStartCollectors(cfg, s.q, s.log)
	if err != nil {
		return fmt.Errorf("restart collectors: %w", err)
	}
	s.collectors = collectors

	s.log.Info("navdoon supervisor reloaded")
	return nil
}

// IsRunning reports whether the supervisor has completed Start and not
// yet completed Stop.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func buildDestinations(cfg config.Config, log *logrus.Logger) ([]destination.Destination, error) {
	var dests []destination.Destination

	if cfg.FlushStdout {
		dests = append(dests, destination.NewStream("stdout", os.Stdout))
	}
	for _, addr := range cfg.FlushGraphite {
		dests = append(dests, destination.NewGraphite(addr, log))
	}
	for _, path := range cfg.FlushFile {
		d, err := destination.NewFile(path)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	for _, path := range cfg.FlushFileCSV {
		d, err := destination.NewCSVFile(path)
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}

	return dests, nil
}
