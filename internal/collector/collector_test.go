package collector

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farzadghanei/navdoon/internal/queue"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestUDPCollectorEnqueuesDatagram(t *testing.T) {
	q := queue.New(0)
	c := NewUDP()
	port := freePort(t)
	require.NoError(t, c.Configure(Options{Host: "127.0.0.1", Port: port, Queue: q, Log: quietLogger()}))

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()
	require.True(t, c.WaitUntilQueuingRequests(2*time.Second))

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	_, err = conn.Write([]byte("hits:1|c"))
	require.NoError(t, err)
	conn.Close()

	item, ok := q.DequeueWithDeadline(time.Now().Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "hits:1|c", item)

	c.Shutdown(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	assert.Equal(t, Stopped, c.State())
}

func TestTCPCollectorLineFraming(t *testing.T) {
	q := queue.New(0)
	c := NewTCP()
	port := freePort(t)
	require.NoError(t, c.Configure(Options{
		Host: "127.0.0.1", Port: port, Queue: q, Log: quietLogger(),
		InitialWorkers: 2, MaxWorkers: 4,
	}))

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()
	require.True(t, c.WaitUntilQueuingRequests(2*time.Second))

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	// Two complete lines and one partial trailing line.
	_, err = conn.Write([]byte("a:1|c\nb:2|c\nparti"))
	require.NoError(t, err)

	first, ok := q.DequeueWithDeadline(time.Now().Add(2 * time.Second))
	require.True(t, ok)
	second, ok := q.DequeueWithDeadline(time.Now().Add(2 * time.Second))
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"a:1|c", "b:2|c"}, []string{first, second})

	// No third item shows up: the partial line is buffered, not folded.
	_, ok = q.DequeueWithDeadline(time.Now().Add(50 * time.Millisecond))
	assert.False(t, ok)

	// Completing the line with the rest + terminator delivers it.
	_, err = conn.Write([]byte("al:3|c\n"))
	require.NoError(t, err)
	third, ok := q.DequeueWithDeadline(time.Now().Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "partial:3|c", third)

	conn.Close()

	c.Shutdown(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestTCPCollectorDiscardsPartialLineOnClose(t *testing.T) {
	q := queue.New(0)
	c := NewTCP()
	port := freePort(t)
	require.NoError(t, c.Configure(Options{
		Host: "127.0.0.1", Port: port, Queue: q, Log: quietLogger(),
		InitialWorkers: 1, MaxWorkers: 2,
	}))

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()
	require.True(t, c.WaitUntilQueuingRequests(2*time.Second))

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	_, err = conn.Write([]byte("good:1|c\nnoterminator"))
	require.NoError(t, err)
	conn.Close()

	item, ok := q.DequeueWithDeadline(time.Now().Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "good:1|c", item)

	_, ok = q.DequeueWithDeadline(time.Now().Add(100 * time.Millisecond))
	assert.False(t, ok, "partial line must be discarded on close, not folded")

	c.Shutdown(time.Second)
	<-done
}

func TestTCPCollectorGrowsPoolOnlyWhenWorkersAreBusy(t *testing.T) {
	q := queue.New(0)
	c := NewTCP()
	port := freePort(t)
	require.NoError(t, c.Configure(Options{
		Host: "127.0.0.1", Port: port, Queue: q, Log: quietLogger(),
		InitialWorkers: 2, MaxWorkers: 4,
	}))

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()
	require.True(t, c.WaitUntilQueuingRequests(2*time.Second))

	// Writing with no trailing newline keeps the worker blocked in
	// ReadString, i.e. busy, without completing a line.
	dial := func() net.Conn {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		require.NoError(t, err)
		_, err = conn.Write([]byte("no-newline-keeps-worker-busy"))
		require.NoError(t, err)
		return conn
	}

	conn1 := dial()
	defer conn1.Close()

	// Exactly one of the two initial workers is now busy; the other is
	// still idle, so the pool must not grow yet.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, c.activeWorkers(), "pool must not grow while an initial worker is still idle")

	conn2 := dial()
	defer conn2.Close()

	// Both initial workers are now busy, but no further connection has
	// arrived yet to require growth.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, c.activeWorkers(), "pool must not grow merely because all current workers are busy; growth happens on the next connection")

	conn3 := dial()
	defer conn3.Close()

	require.Eventually(t, func() bool {
		return c.activeWorkers() == 3
	}, time.Second, 5*time.Millisecond, "a connection arriving while every worker is busy must grow the pool")

	c.Shutdown(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestCollectorStateMachine(t *testing.T) {
	q := queue.New(0)
	c := NewUDP()
	assert.Equal(t, Init, c.State())

	port := freePort(t)
	require.NoError(t, c.Configure(Options{Host: "127.0.0.1", Port: port, Queue: q, Log: quietLogger()}))
	assert.Equal(t, Configured, c.State())

	go c.Serve()
	require.True(t, c.WaitUntilQueuingRequests(2*time.Second))
	assert.Equal(t, Queuing, c.State())

	c.Shutdown(time.Second)
	require.True(t, c.WaitUntilShutdown(2*time.Second))
	assert.Equal(t, Stopped, c.State())
}
