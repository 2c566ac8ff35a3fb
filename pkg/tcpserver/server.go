// Package tcpserver runs a context-aware TCP accept loop that hands every connection
// to its own goroutine.
package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxAcceptDelay = time.Second

// ConnHandler serves one accepted connection. The connection is closed when the
// handler returns or the server's context is cancelled.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Server wraps the TCP listener lifecycle.
type Server struct {
	Addr string

	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New creates a Server listening on addr.
func New(addr string, logger zerolog.Logger) *Server {
	return &Server{
		Addr:   addr,
		logger: logger,
	}
}

// ListenAndServe binds Addr and serves until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, handler ConnHandler) error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen %q: %w", s.Addr, err)
	}
	return s.Serve(ctx, listener, handler)
}

// Serve accepts connections on listener until the context is cancelled. It closes the
// listener and waits for running handlers before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener, handler ConnHandler) error {
	if handler == nil {
		return errors.New("tcpserver: connection handler required")
	}
	defer s.wg.Wait()
	defer listener.Close()

	stop := context.AfterFunc(ctx, func() {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn().Err(err).Msg("tcpserver: listener close error")
		}
	})
	defer stop()

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("tcpserver: listening")

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			delay = nextAcceptDelay(delay)
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("tcpserver: accept error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go s.handleConn(ctx, conn, handler)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn, handler ConnHandler) {
	defer s.wg.Done()
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	s.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("tcpserver: new connection")
	handler(ctx, conn)
}

// nextAcceptDelay doubles the wait after a failed accept, from 5ms up to one second.
func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, maxAcceptDelay)
}
