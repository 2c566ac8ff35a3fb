package chat

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMailboxSize  = 64
	defaultFlushTimeout = 2 * time.Second
)

// Conn is one peer's ordered stream of text messages. Framing is the implementation's concern.
type Conn interface {
	ReadMessage() (string, error)
	WriteMessage(msg string) error
	Close() error
}

// State is a session's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateNamed
	StateActive
	StateLeaving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNamed:
		return "named"
	case StateActive:
		return "active"
	case StateLeaving:
		return "leaving"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithMailboxSize bounds the number of messages queued for the peer.
func WithMailboxSize(size int) SessionOption {
	return func(s *Session) {
		if size > 0 {
			s.mailbox = make(chan string, size)
		}
	}
}

// WithFlushTimeout bounds how long teardown waits for queued messages to be written.
func WithFlushTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.flushTimeout = d
		}
	}
}

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = logger
	}
}

// Session is one connected peer: its display name, its connection and its mailbox.
type Session struct {
	id       string
	registry *Registry
	conn     Conn
	log      zerolog.Logger

	mu   sync.RWMutex
	name string

	state atomic.Int32

	mailbox      chan string
	flushTimeout time.Duration
	done         chan struct{}
	writerDone   chan struct{}
	writerOnce   sync.Once

	cleanup sync.Once
}

// NewSession wraps conn in a session that will join registry when run.
func NewSession(registry *Registry, conn Conn, opts ...SessionOption) *Session {
	s := &Session{
		id:           uuid.NewString(),
		registry:     registry,
		conn:         conn,
		log:          zerolog.Nop(),
		name:         registry.fallback,
		mailbox:      make(chan string, defaultMailboxSize),
		flushTimeout: defaultFlushTimeout,
		done:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Logger()
	return s
}

// ID returns the session's connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Name returns the session's current display name.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// State returns the session's lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run registers the session under a generated name, then reads and dispatches messages
// until the peer leaves or the connection fails. It returns after teardown. A session
// that already left is not registered.
func (s *Session) Run() {
	defer s.Leave()

	name, err := s.registry.JoinUnique(s)
	if err != nil {
		s.log.Debug().Err(err).Msg("session not joined")
		return
	}
	s.startWriter()
	s.log.Debug().Str("member", name).Msg("session joined")

	s.Deliver(MsgWelcome)

	if err := s.readLoop(); err != nil {
		s.handleReadError(err)
	}
}

func (s *Session) readLoop() error {
	for {
		line, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		if !s.dispatch(line) {
			return nil
		}
	}
}

func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Info().Str("member", s.Name()).Msg("member disconnected")
	default:
		s.log.Warn().Err(err).Str("member", s.Name()).Msgf("%s disconnected unexpectedly.", s.Name())
	}
}

// Deliver queues msg for the peer without blocking. A full mailbox drops the message.
func (s *Session) Deliver(msg string) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.mailbox <- msg:
		return true
	default:
		s.log.Warn().Str("member", s.Name()).Msg("mailbox full, dropping message")
		return false
	}
}

func (s *Session) startWriter() {
	s.writerOnce.Do(func() {
		go s.writeLoop()
	})
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case msg := <-s.mailbox:
			if !s.write(msg) {
				return
			}
		case <-s.done:
			for {
				select {
				case msg := <-s.mailbox:
					if !s.write(msg) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// write sends one message. A failed write closes the connection so the read side
// observes it and tears the session down.
func (s *Session) write(msg string) bool {
	if err := s.conn.WriteMessage(msg); err != nil {
		s.log.Warn().Err(err).Str("member", s.Name()).Msg("error sending message")
		if closeErr := s.conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			s.log.Debug().Err(closeErr).Msg("close after write failure")
		}
		return false
	}
	return true
}

// Leave removes the session from the registry and releases its connection. Only the
// first call has any effect.
func (s *Session) Leave() {
	s.cleanup.Do(func() {
		s.state.Store(int32(StateLeaving))
		s.registry.Leave(s)
		if err := s.release(); err != nil {
			s.log.Warn().Err(err).Str("member", s.Name()).Msg("release session")
		}
		s.state.Store(int32(StateClosed))
	})
}

// release stops the writer after a bounded flush and closes the connection. Each step
// runs regardless of the others failing.
func (s *Session) release() error {
	s.startWriter()
	close(s.done)

	timer := time.NewTimer(s.flushTimeout)
	select {
	case <-s.writerDone:
	case <-timer.C:
		s.log.Warn().Str("member", s.Name()).Msg("flush timed out")
	}
	timer.Stop()

	var errs []error
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	<-s.writerDone

	return errors.Join(errs...)
}
