// Package web exposes the relay over HTTP: a health check, a membership snapshot and
// a WebSocket endpoint where each text message is one chat message.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ledzpl/chatrelay/internal/chat"
)

const shutdownTimeout = 5 * time.Second

// SessionFunc runs a chat session on conn and returns when it ends.
type SessionFunc func(conn chat.Conn)

// Options tune the WebSocket endpoint.
type Options struct {
	// Origins lists host patterns allowed to open a WebSocket besides the server's own.
	Origins        []string
	MaxMessageSize int64
	IdleTimeout    time.Duration
}

// Server serves the HTTP surface.
type Server struct {
	registry *chat.Registry
	serve    SessionFunc
	opts     Options
	log      zerolog.Logger
	engine   *gin.Engine
}

// MembersResponse is the body of GET /members.
type MembersResponse struct {
	Members []string `json:"members"`
	Count   int      `json:"count"`
}

// New builds the router.
func New(registry *chat.Registry, serve SessionFunc, opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		registry: registry,
		serve:    serve,
		opts:     opts,
		log:      logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), loggerMiddleware(logger))
	engine.GET("/health", s.health)
	engine.GET("/members", s.members)
	engine.GET("/ws", s.serveWS)
	s.engine = engine

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve serves HTTP on listener until ctx is cancelled. Request contexts derive from
// ctx, so open WebSocket sessions end with it.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("web: listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("web: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web: serve: %w", err)
		}
		return ctx.Err()
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) members(c *gin.Context) {
	members := s.registry.ListMembers()
	c.JSON(http.StatusOK, MembersResponse{Members: members, Count: len(members)})
}

func loggerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
