// Package wire frames chat messages over a byte stream. Two framings are supported:
// newline-delimited UTF-8 lines and 4-byte big-endian length-prefixed payloads.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Framing names a frame format.
type Framing string

const (
	FramingLine   Framing = "line"
	FramingLength Framing = "length"
)

// DefaultMaxMessageSize bounds a single frame when no limit is configured.
const DefaultMaxMessageSize = 4096

var (
	// ErrFrameTooLarge is returned when a peer sends a frame above the size limit.
	ErrFrameTooLarge = errors.New("wire: frame too large")
	// ErrInvalidUTF8 is returned when a frame is not valid UTF-8 text.
	ErrInvalidUTF8 = errors.New("wire: frame is not valid UTF-8")
	// ErrUnknownFraming is returned for a framing name other than line or length.
	ErrUnknownFraming = errors.New("wire: unknown framing")
)

// ParseFraming validates a framing name.
func ParseFraming(name string) (Framing, error) {
	switch f := Framing(strings.ToLower(strings.TrimSpace(name))); f {
	case FramingLine, FramingLength:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFraming, name)
	}
}

// Options tune a Conn.
type Options struct {
	Framing        Framing
	MaxMessageSize int
	// IdleTimeout closes the read side when no frame arrives in time. Zero disables it.
	IdleTimeout time.Duration
}

// Conn reads and writes framed text messages on a net.Conn. Reads and writes may run
// on different goroutines; concurrent writers are serialized.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   Options

	writeMu sync.Mutex
}

// New wraps conn.
func New(conn net.Conn, opts Options) *Conn {
	if opts.Framing == "" {
		opts.Framing = FramingLine
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Conn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, min(opts.MaxMessageSize+2, 64*1024)),
		opts:   opts,
	}
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ReadMessage blocks until the next frame arrives.
func (c *Conn) ReadMessage() (string, error) {
	if c.opts.IdleTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout)); err != nil {
			return "", fmt.Errorf("wire: set read deadline: %w", err)
		}
	}

	var (
		payload []byte
		err     error
	)
	switch c.opts.Framing {
	case FramingLength:
		payload, err = c.readLengthFrame()
	default:
		payload, err = c.readLine()
	}
	if err != nil {
		return "", err
	}
	if !utf8.Valid(payload) {
		return "", ErrInvalidUTF8
	}
	return string(payload), nil
}

func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > c.opts.MaxMessageSize+2 {
			return nil, ErrFrameTooLarge
		}
		switch {
		case err == nil:
			line = line[:len(line)-1]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
			if len(line) > c.opts.MaxMessageSize {
				return nil, ErrFrameTooLarge
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

func (c *Conn) readLengthFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > uint32(c.opts.MaxMessageSize) {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// WriteMessage sends msg as one frame. Newlines inside msg are replaced by spaces in
// line framing so the frame boundary is preserved.
func (c *Conn) WriteMessage(msg string) error {
	var frame []byte
	switch c.opts.Framing {
	case FramingLength:
		frame = make([]byte, 4+len(msg))
		binary.BigEndian.PutUint32(frame, uint32(len(msg)))
		copy(frame[4:], msg)
	default:
		frame = []byte(strings.NewReplacer("\r", " ", "\n", " ").Replace(msg) + "\n")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
