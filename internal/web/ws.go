package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

const writeTimeout = 10 * time.Second

var errBinaryMessage = errors.New("web: binary websocket messages are not supported")

func (s *Server) serveWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.opts.Origins,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("web: websocket accept")
		return
	}
	if s.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(s.opts.MaxMessageSize)
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	s.serve(&wsConn{
		ctx:    ctx,
		conn:   conn,
		idle:   s.opts.IdleTimeout,
		cancel: cancel,
	})
}

// wsConn adapts a WebSocket to chat.Conn; one text message is one chat message.
type wsConn struct {
	ctx    context.Context
	conn   *websocket.Conn
	idle   time.Duration
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) ReadMessage() (string, error) {
	ctx := w.ctx
	if w.idle > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.idle)
		defer cancel()
	}

	typ, data, err := w.conn.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return "", io.EOF
		}
		return "", fmt.Errorf("web: read: %w", err)
	}
	if typ != websocket.MessageText {
		return "", errBinaryMessage
	}
	if !utf8.Valid(data) {
		return "", errors.New("web: message is not valid UTF-8")
	}
	return string(data), nil
}

func (w *wsConn) WriteMessage(msg string) error {
	ctx, cancel := context.WithTimeout(w.ctx, writeTimeout)
	defer cancel()

	if err := w.conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		return fmt.Errorf("web: write: %w", err)
	}
	return nil
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		defer w.cancel()
		err := w.conn.Close(websocket.StatusNormalClosure, "")
		if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			w.closeErr = err
		}
	})
	return w.closeErr
}
