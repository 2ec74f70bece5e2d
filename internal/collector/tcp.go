package collector

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farzadghanei/navdoon/internal/queue"
)

// defaultWorkerIdleGrace is how long a worker above the initial pool
// size waits for a new connection before exiting to reclaim resources
// (see DESIGN.md Open Questions).
const defaultWorkerIdleGrace = 60 * time.Second

// TCPCollector accepts stream connections on one listening socket and
// hands each to a worker from a dynamically sized pool: it starts with
// InitialWorkers, grows up to MaxWorkers under load, and lets workers
// above the initial size exit after an idle grace period.
type TCPCollector struct {
	*lifecycle

	opts Options
	ln   net.Listener
	q    *queue.Queue
	log  *logrus.Logger

	connCh chan net.Conn

	poolMu      sync.Mutex
	activeCount int
	busyCount   int

	wg sync.WaitGroup
}

// NewTCP creates an unconfigured TCP collector.
func NewTCP() *TCPCollector {
	return &TCPCollector{lifecycle: newLifecycle()}
}

// Configure implements Collector.
func (c *TCPCollector) Configure(opts Options) error {
	if opts.InitialWorkers <= 0 {
		opts.InitialWorkers = 4
	}
	if opts.MaxWorkers < opts.InitialWorkers {
		opts.MaxWorkers = opts.InitialWorkers
	}
	c.opts = opts
	c.q = opts.Queue
	c.log = opts.Log
	if c.log == nil {
		c.log = logrus.New()
	}
	c.connCh = make(chan net.Conn)
	c.setState(Configured)
	return nil
}

// Serve implements Collector. It blocks until Shutdown is called or a
// fatal bind error occurs.
func (c *TCPCollector) Serve() error {
	c.setState(Binding)

	addr := fmt.Sprintf("%s:%d", c.opts.Host, c.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind tcp %s: %w", addr, err)
	}
	c.ln = ln

	if err := dropPrivileges(c.opts); err != nil {
		ln.Close()
		return fmt.Errorf("drop privileges: %w", err)
	}

	for i := 0; i < c.opts.InitialWorkers; i++ {
		c.spawnWorker(false)
	}

	c.markQueuing()
	c.log.WithField("addr", ln.Addr()).Info("tcp collector queuing requests")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if c.getState() == ShuttingDown {
				break
			}
			c.log.WithError(err).Debug("tcp accept error")
			continue
		}

		c.poolMu.Lock()
		// Every worker currently spawned is busy handling a connection:
		// there is no idle worker to take this one, so grow the pool if
		// there's still room.
		needsGrowth := c.busyCount >= c.activeCount && c.activeCount < c.opts.MaxWorkers
		atCapacity := c.activeCount >= c.opts.MaxWorkers
		c.poolMu.Unlock()

		if needsGrowth {
			c.spawnWorker(true)
		}
		if atCapacity {
			// Pool is at its limit: if every worker is also busy, the
			// send below blocks until one frees up, since connCh is
			// unbuffered. That block is the backpressure.
		}
		c.connCh <- conn
	}

	close(c.connCh)
	c.wg.Wait()
	c.markStopped()
	return nil
}

func (c *TCPCollector) spawnWorker(reclaimable bool) {
	c.poolMu.Lock()
	c.activeCount++
	c.poolMu.Unlock()

	c.wg.Add(1)
	go c.runWorker(reclaimable)
}

// runWorker pulls connections from connCh and serves them one at a
// time. Workers above the initial pool size (reclaimable) exit after
// defaultWorkerIdleGrace with nothing to do, shrinking the pool back
// down.
func (c *TCPCollector) runWorker(reclaimable bool) {
	defer c.wg.Done()
	defer func() {
		c.poolMu.Lock()
		c.activeCount--
		c.poolMu.Unlock()
	}()

	for {
		if reclaimable {
			select {
			case conn, ok := <-c.connCh:
				if !ok {
					return
				}
				c.serveBusy(conn)
			case <-time.After(defaultWorkerIdleGrace):
				return
			}
		} else {
			conn, ok := <-c.connCh
			if !ok {
				return
			}
			c.serveBusy(conn)
		}
	}
}

// serveBusy marks the worker busy for the duration of handleConn, so
// the accept loop can tell whether every spawned worker is occupied
// and growth is actually needed.
func (c *TCPCollector) serveBusy(conn net.Conn) {
	c.poolMu.Lock()
	c.busyCount++
	c.poolMu.Unlock()

	defer func() {
		c.poolMu.Lock()
		c.busyCount--
		c.poolMu.Unlock()
	}()

	c.handleConn(conn)
}

// handleConn reads complete lines from conn and enqueues each as a
// separate raw request string. A residual partial line (no trailing
// newline yet) is retained across reads; on client close any partial
// line is discarded rather than folded.
func (c *TCPCollector) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			// A full line, newline-terminated: safe to enqueue.
			if trimmed := trimNewline(line); trimmed != "" {
				c.q.Enqueue(trimmed)
			}
			continue
		}
		// Whatever is left in `line` is an unterminated residual line:
		// On client close any partial line is discarded.
		if err != io.EOF {
			c.log.WithError(err).Debug("tcp read error, closing connection")
		}
		return
	}
}

func trimNewline(s string) string {
	n := len(s)
	if n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	n = len(s)
	if n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

// Shutdown implements Collector.
func (c *TCPCollector) Shutdown(timeout time.Duration) {
	c.setState(ShuttingDown)
	if c.ln != nil {
		c.ln.Close()
	}
	c.waitShutdown(timeout)
}

// IsQueuingRequests implements Collector.
func (c *TCPCollector) IsQueuingRequests() bool { return c.isQueuing() }

// WaitUntilQueuingRequests implements Collector.
func (c *TCPCollector) WaitUntilQueuingRequests(timeout time.Duration) bool {
	return c.waitQueuing(timeout)
}

// WaitUntilShutdown implements Collector.
func (c *TCPCollector) WaitUntilShutdown(timeout time.Duration) bool {
	return c.waitShutdown(timeout)
}

// State implements Collector.
func (c *TCPCollector) State() State { return c.getState() }

// activeWorkers reports the current pool size, for tests.
func (c *TCPCollector) activeWorkers() int {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	return c.activeCount
}
