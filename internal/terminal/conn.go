// Package terminal serves the chat over an interactive SSH session: keystrokes are
// edited into lines and every message is printed above a prompt.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/ssh"
)

const (
	ctrlC      = 0x03
	ctrlD      = 0x04
	backspace  = '\b'
	deleteChar = 0x7f

	defaultMaxLineLength = 4096
)

// ErrShellNotRequested indicates the SSH client closed the request stream without asking for a shell.
var ErrShellNotRequested = errors.New("terminal: shell request not received before channel closed")

// Conn is a line-edited message stream over a terminal.
type Conn struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	buffer *lineBuffer
	screen *screen

	eof       bool
	closeOnce sync.Once
	closeErr  error
}

// New wraps rw. maxLineLength caps the characters accepted per line; 0 uses the default.
func New(rw io.ReadWriteCloser, maxLineLength int) *Conn {
	return &Conn{
		rw:     rw,
		reader: bufio.NewReader(rw),
		buffer: newLineBuffer(maxLineLength),
		screen: newScreen(rw),
	}
}

// Accept drains channel requests until the client asks for a shell, then keeps
// answering the remaining requests in the background.
func Accept(channel ssh.Channel, requests <-chan *ssh.Request, maxLineLength int) (*Conn, error) {
	for req := range requests {
		if !handleRequest(req) {
			continue
		}

		go func() {
			for req := range requests {
				handleRequest(req)
			}
		}()

		c := New(channel, maxLineLength)
		if err := c.screen.Clear(); err != nil {
			return nil, fmt.Errorf("terminal: prepare screen: %w", err)
		}
		return c, nil
	}
	return nil, ErrShellNotRequested
}

// handleRequest answers one channel request and reports whether it was the shell request.
func handleRequest(req *ssh.Request) bool {
	switch req.Type {
	case "shell":
		_ = req.Reply(true, nil)
		return true
	case "pty-req", "env", "window-change", "signal":
		_ = req.Reply(true, nil)
	default:
		_ = req.Reply(false, nil)
	}
	return false
}

// ReadMessage returns the next submitted non-blank line. Ctrl-C and Ctrl-D end the
// stream with io.EOF.
func (c *Conn) ReadMessage() (string, error) {
	if c.eof {
		return "", io.EOF
	}

	for {
		r, _, err := c.reader.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.eof = true
				if pending := strings.TrimSpace(c.buffer.Drain()); pending != "" {
					return pending, nil
				}
			}
			return "", err
		}

		line, submitted, err := c.processRune(r)
		if err != nil {
			return "", err
		}
		if submitted {
			return line, nil
		}
	}
}

func (c *Conn) processRune(r rune) (string, bool, error) {
	switch r {
	case '\r', '\n':
		c.swallowNewline(r)
		text := c.buffer.Drain()
		if strings.TrimSpace(text) == "" {
			return "", false, c.screen.Prompt("")
		}
		return text, true, c.screen.Prompt("")
	case ctrlC:
		return "", false, c.endInput("^C")
	case ctrlD:
		return "", false, c.endInput("^D")
	case backspace, deleteChar:
		c.buffer.TrimLast()
		return "", false, c.screen.Prompt(c.buffer.Snapshot())
	default:
		if unicode.IsPrint(r) && c.buffer.Append(r) {
			return "", false, c.screen.Prompt(c.buffer.Snapshot())
		}
		return "", false, nil
	}
}

// swallowNewline consumes the LF of a CRLF pair.
func (c *Conn) swallowNewline(r rune) {
	if r != '\r' || c.reader.Buffered() == 0 {
		return
	}
	if next, _, err := c.reader.ReadRune(); err == nil && next != '\n' {
		_ = c.reader.UnreadRune()
	}
}

func (c *Conn) endInput(label string) error {
	c.buffer.Reset()
	c.eof = true
	if err := c.screen.ControlAck(label); err != nil {
		return err
	}
	return io.EOF
}

// WriteMessage prints msg above the prompt, preserving the line being typed.
func (c *Conn) WriteMessage(msg string) error {
	return c.screen.Message(msg, c.buffer.Snapshot())
}

// Close closes the underlying channel once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rw.Close()
	})
	return c.closeErr
}
