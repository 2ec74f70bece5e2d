package collector

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farzadghanei/navdoon/internal/queue"
)

const maxUDPPacketSize = 65536 // 64 KiB

// UDPCollector reads datagrams on a single UDP socket. Each datagram is
// self-contained and pushed as one raw-request string unmodified: there
// is no continuation to wait for across reads the way there is with a
// TCP stream.
type UDPCollector struct {
	*lifecycle

	opts Options
	conn *net.UDPConn
	q    *queue.Queue
	log  *logrus.Logger
}

// NewUDP creates an unconfigured UDP collector.
func NewUDP() *UDPCollector {
	return &UDPCollector{lifecycle: newLifecycle()}
}

// Configure implements Collector.
func (c *UDPCollector) Configure(opts Options) error {
	c.opts = opts
	c.q = opts.Queue
	c.log = opts.Log
	if c.log == nil {
		c.log = logrus.New()
	}
	c.setState(Configured)
	return nil
}

// Serve implements Collector. It blocks until Shutdown is called or a
// fatal bind error occurs.
func (c *UDPCollector) Serve() error {
	c.setState(Binding)

	addr := &net.UDPAddr{IP: net.ParseIP(c.opts.Host), Port: c.opts.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind udp %s:%d: %w", c.opts.Host, c.opts.Port, err)
	}
	c.conn = conn

	if err := dropPrivileges(c.opts); err != nil {
		conn.Close()
		return fmt.Errorf("drop privileges: %w", err)
	}

	c.markQueuing()
	c.log.WithField("addr", conn.LocalAddr()).Info("udp collector queuing requests")

	buf := make([]byte, maxUDPPacketSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if c.getState() == ShuttingDown {
				break
			}
			c.log.WithError(err).Debug("udp read error")
			continue
		}
		if n == 0 {
			continue
		}
		// A datagram is self-contained: there is no continuation to
		// wait for, so unlike TCP there is nothing to buffer across
		// reads. The processor splits on '\n' and skips empty tokens,
		// which naturally discards the empty segment produced when a
		// datagram happens to end with a trailing newline.
		c.q.Enqueue(string(buf[:n]))
	}

	c.markStopped()
	return nil
}

// Shutdown implements Collector.
func (c *UDPCollector) Shutdown(timeout time.Duration) {
	c.setState(ShuttingDown)
	if c.conn != nil {
		c.conn.SetReadDeadline(time.Now())
		c.conn.Close()
	}
	c.waitShutdown(timeout)
}

// IsQueuingRequests implements Collector.
func (c *UDPCollector) IsQueuingRequests() bool { return c.isQueuing() }

// WaitUntilQueuingRequests implements Collector.
func (c *UDPCollector) WaitUntilQueuingRequests(timeout time.Duration) bool {
	return c.waitQueuing(timeout)
}

// WaitUntilShutdown implements Collector.
func (c *UDPCollector) WaitUntilShutdown(timeout time.Duration) bool {
	return c.waitShutdown(timeout)
}

// State implements Collector.
func (c *UDPCollector) State() State { return c.getState() }
