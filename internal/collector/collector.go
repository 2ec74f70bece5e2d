// Package collector implements the network listeners that turn socket
// bytes into raw request strings pushed onto the shared queue.
package collector

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/farzadghanei/navdoon/internal/privdrop"
	"github.com/farzadghanei/navdoon/internal/queue"
)

// State is a collector's lifecycle stage.
type State int

const (
	Init State = iota
	Configured
	Binding
	Queuing
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Configured:
		return "configured"
	case Binding:
		return "binding"
	case Queuing:
		return "queuing"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a collector before Serve is called.
type Options struct {
	Host  string
	Port  int
	User  string // optional, privilege drop after bind
	Group string // optional

	// TCP-only; ignored by the UDP collector.
	InitialWorkers int
	MaxWorkers     int

	Queue *queue.Queue
	Log   *logrus.Logger
}

// Collector is the shared interface for UDP and TCP ingest listeners.
type Collector interface {
	Configure(Options) error
	Serve() error
	Shutdown(timeout time.Duration)
	IsQueuingRequests() bool
	WaitUntilQueuingRequests(timeout time.Duration) bool
	WaitUntilShutdown(timeout time.Duration) bool
	State() State
}

// lifecycle is embedded by both collector implementations to share the
// state machine and its condition-variable-style waits.
type lifecycle struct {
	mu    sync.Mutex
	state State

	queuingCh  chan struct{}
	queuingSet bool

	shutdownCh  chan struct{}
	shutdownSet bool
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		state:      Init,
		queuingCh:  make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

func (l *lifecycle) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

func (l *lifecycle) getState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) markQueuing() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = Queuing
	if !l.queuingSet {
		l.queuingSet = true
		close(l.queuingCh)
	}
}

func (l *lifecycle) markStopped() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = Stopped
	if !l.shutdownSet {
		l.shutdownSet = true
		close(l.shutdownCh)
	}
}

func (l *lifecycle) isQueuing() bool {
	return l.getState() == Queuing
}

func (l *lifecycle) waitQueuing(timeout time.Duration) bool {
	select {
	case <-l.queuingCh:
		return true
	case <-time.After(timeout):
		return l.isQueuing()
	}
}

func (l *lifecycle) waitShutdown(timeout time.Duration) bool {
	select {
	case <-l.shutdownCh:
		return true
	case <-time.After(timeout):
		return l.getState() == Stopped
	}
}

// dropPrivileges drops to the configured user/group. Serve calls it
// after binding and before entering the accept/read loop -- never
// reordered.
func dropPrivileges(opts Options) error {
	if opts.User == "" && opts.Group == "" {
		return nil
	}
	return privdrop.Drop(opts.User, opts.Group)
}
