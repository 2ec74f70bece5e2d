// Package processor implements the queue processor: it drains the
// shared queue, folds raw request strings into the shelf, and drives
// the periodic flush to every registered destination.
package processor

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farzadghanei/navdoon/internal/destination"
	"github.com/farzadghanei/navdoon/internal/metric"
	"github.com/farzadghanei/navdoon/internal/queue"
	"github.com/farzadghanei/navdoon/internal/shelf"
)

// Processor owns the shelf, drains the shared queue, and fans out
// flushes to destinations. The shelf is never touched outside of its
// driver goroutine (Process), satisfying the single-owner invariant.
type Processor struct {
	queue         *queue.Queue
	shelf         *shelf.Shelf
	flushInterval time.Duration
	log           *logrus.Logger

	mu           sync.Mutex
	destinations []destination.Destination
	lastFlush    time.Time

	invalidMetrics uint64

	processingMu sync.Mutex
	processing   bool
	processingCh chan struct{}

	shutdownRequested chan struct{}
	shutdownOnce      sync.Once
	shutdownDoneCh    chan struct{}
}

// New creates a Processor over q, aggregating into a fresh shelf and
// flushing every flushInterval. log may be nil, which installs a
// logger with output discarded.
func New(q *queue.Queue, flushInterval time.Duration, log *logrus.Logger) *Processor {
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Processor{
		queue:             q,
		shelf:             shelf.New(flushInterval),
		flushInterval:     flushInterval,
		log:               log,
		processingCh:      make(chan struct{}),
		shutdownRequested: make(chan struct{}),
		shutdownDoneCh:    make(chan struct{}),
	}
}

// AddDestination appends d to the ordered fan-out list.
func (p *Processor) AddDestination(d destination.Destination) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destinations = append(p.destinations, d)
}

// ClearDestinations empties the fan-out list. Existing destinations are
// not closed; the caller is responsible for that (used by reload, which
// may want to reuse a destination across the swap).
func (p *Processor) ClearDestinations() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destinations = nil
}

// InvalidMetrics reports how many lines have failed to parse since
// process start.
func (p *Processor) InvalidMetrics() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidMetrics
}

// LastFlush reports the timestamp of the most recently completed flush,
// preserved verbatim across a reload.
func (p *Processor) LastFlush() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFlush
}

// SetLastFlush seeds the flush clock. A non-zero value set before
// Process starts is kept, so the first deadline is t plus the flush
// interval rather than the start time plus the interval.
func (p *Processor) SetLastFlush(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFlush = t
}

// IsProcessing reports whether Process has started its driver loop.
func (p *Processor) IsProcessing() bool {
	p.processingMu.Lock()
	defer p.processingMu.Unlock()
	return p.processing
}

// WaitUntilProcessing blocks until Process signals it is running, or
// timeout elapses; returns false on timeout.
func (p *Processor) WaitUntilProcessing(timeout time.Duration) bool {
	select {
	case <-p.processingCh:
		return true
	case <-time.After(timeout):
		return p.IsProcessing()
	}
}

// WaitUntilShutdown blocks until Process has returned, or timeout
// elapses; returns false on timeout.
func (p *Processor) WaitUntilShutdown(timeout time.Duration) bool {
	select {
	case <-p.shutdownDoneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Process runs the driver loop until Shutdown is called. It makes
// progress both when items arrive on the queue and when the flush
// deadline passes, using a blocking dequeue-with-deadline rather than
// draining then sleeping, so the flush cadence is never skewed by queue
// activity.
func (p *Processor) Process(ctx context.Context) {
	p.mu.Lock()
	if p.lastFlush.IsZero() {
		p.lastFlush = time.Now()
	}
	p.mu.Unlock()

	p.processingMu.Lock()
	p.processing = true
	p.processingMu.Unlock()
	close(p.processingCh)

	defer func() {
		p.processingMu.Lock()
		p.processing = false
		p.processingMu.Unlock()
		close(p.shutdownDoneCh)
	}()

	// Merge shutdownRequested and ctx.Done into one stop signal so the
	// blocking dequeue below can be woken immediately instead of sitting
	// out up to a full flush interval before the loop rechecks them.
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-p.shutdownRequested:
		case <-ctx.Done():
		}
		close(stopCh)
	}()

	for {
		select {
		case <-stopCh:
			p.drainAndFinalFlush()
			return
		default:
		}

		deadline := p.nextDeadline()
		item, ok := p.queue.DequeueWithDeadlineOrStop(deadline, stopCh)
		if !ok {
			select {
			case <-stopCh:
				p.drainAndFinalFlush()
				return
			default:
			}
			p.Flush(time.Now())
			continue
		}
		p.fold(item)
	}
}

// nextDeadline computes lastFlush + flushInterval under the lock.
func (p *Processor) nextDeadline() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFlush.Add(p.flushInterval)
}

func (p *Processor) fold(raw string) {
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		m, err := metric.Parse(line)
		if err != nil {
			p.mu.Lock()
			p.invalidMetrics++
			p.mu.Unlock()
			p.log.WithField("line", line).Debug("dropping malformed metric line")
			continue
		}
		p.shelf.Add(m)
	}
}

// Flush synchronously snapshots and clears the shelf, then forwards the
// records to every destination in registration order. Per-destination
// failures are logged and skipped; they never abort the flush or
// re-queue records. The shelf is cleared before any destination write
// is attempted.
func (p *Processor) Flush(now time.Time) {
	records := p.shelf.SnapshotAndClear(now)

	p.mu.Lock()
	p.lastFlush = now
	dests := append([]destination.Destination(nil), p.destinations...)
	p.mu.Unlock()

	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, d := range dests {
		if err := d.Flush(ctx, records); err != nil {
			p.log.WithError(err).WithField("destination", d.Name()).Warn("destination flush failed")
		}
	}
}

// Shutdown requests termination. After the driver observes the
// request it drains whatever remains in the queue into the shelf and
// performs one final flush before Process returns.
func (p *Processor) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdownRequested)
	})
}

func (p *Processor) drainAndFinalFlush() {
	p.queue.DrainInto(p.fold)
	p.Flush(time.Now())
}
