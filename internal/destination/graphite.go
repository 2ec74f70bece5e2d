package destination

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farzadghanei/navdoon/internal/shelf"
)

// GraphiteDestination writes each flush as Carbon plaintext lines over a
// TCP connection to a Graphite/Carbon receiver. The connection is
// opened lazily on the first flush and kept open across flushes; a
// write failure marks it for reconnect on the next flush rather than
// failing the destination permanently.
type GraphiteDestination struct {
	addr    string
	dial    func(network, address string) (net.Conn, error)
	timeout time.Duration
	log     *logrus.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewGraphite creates a Carbon-format TCP destination for addr
// ("host:port"). log may be nil, in which case a disabled logger is used.
func NewGraphite(addr string, log *logrus.Logger) *GraphiteDestination {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &GraphiteDestination{
		addr:    addr,
		dial:    net.Dial,
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Name implements Destination.
func (g *GraphiteDestination) Name() string {
	return fmt.Sprintf("graphite:%s", g.addr)
}

// Flush implements Destination.
func (g *GraphiteDestination) Flush(ctx context.Context, records []shelf.FlushRecord) error {
	if len(records) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	conn, err := g.ensureConnLocked()
	if err != nil {
		return fmt.Errorf("dial %s: %w", g.addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Now().Add(g.timeout))
	}

	w := bufio.NewWriter(conn)
	for _, r := range records {
		if _, err := w.WriteString(formatLine(r.Name, r.Value, r.Timestamp.Unix())); err != nil {
			g.closeConnLocked()
			return fmt.Errorf("write to %s: %w", g.addr, err)
		}
	}
	if err := w.Flush(); err != nil {
		g.closeConnLocked()
		return fmt.Errorf("flush to %s: %w", g.addr, err)
	}

	return nil
}

func (g *GraphiteDestination) ensureConnLocked() (net.Conn, error) {
	if g.conn != nil {
		return g.conn, nil
	}
	conn, err := g.dial("tcp", g.addr)
	if err != nil {
		g.log.WithError(err).WithField("addr", g.addr).Debug("graphite dial failed, will retry next flush")
		return nil, err
	}
	g.log.WithField("addr", g.addr).Debug("graphite connection established")
	g.conn = conn
	return conn, nil
}

func (g *GraphiteDestination) closeConnLocked() {
	if g.conn != nil {
		_ = g.conn.Close()
		g.conn = nil
	}
}

// Close implements Destination.
func (g *GraphiteDestination) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closeConnLocked()
	return nil
}
