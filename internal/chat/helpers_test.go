package chat

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = time.Second

// fakeConn is an in-memory Conn. Lines pushed with send are read by the session;
// messages the session writes arrive on out.
type fakeConn struct {
	in  chan string
	out chan string

	closeOnce sync.Once
	closed    chan struct{}

	mu       sync.Mutex
	closes   int
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan string),
		out:    make(chan string, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (string, error) {
	select {
	case line := <-c.in:
		return line, nil
	case <-c.closed:
		return "", io.EOF
	}
}

func (c *fakeConn) WriteMessage(msg string) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// fail simulates a read failure on the peer's side.
func (c *fakeConn) fail() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *fakeConn) send(t *testing.T, line string) {
	t.Helper()
	select {
	case c.in <- line:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out sending %q", line)
	}
}

func (c *fakeConn) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.out:
		require.Equal(t, want, got)
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (c *fakeConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got := <-c.out:
		t.Fatalf("unexpected message %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

// member starts a session on a fake connection and waits for its welcome.
type member struct {
	session *Session
	conn    *fakeConn
	done    chan struct{}
}

func startMember(t *testing.T, registry *Registry) *member {
	t.Helper()

	conn := newFakeConn()
	m := &member{
		session: NewSession(registry, conn),
		conn:    conn,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(m.done)
		m.session.Run()
	}()
	conn.expect(t, MsgWelcome)
	t.Cleanup(func() {
		conn.fail()
		<-m.done
	})
	return m
}

func (m *member) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-m.done:
	case <-time.After(waitTimeout):
		t.Fatal("session did not finish")
	}
}

// drain discards everything queued so far for the member.
func (m *member) drain() {
	for {
		select {
		case <-m.conn.out:
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}
