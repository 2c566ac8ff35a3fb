// Package client connects a console to a chat relay: every input line is sent as one
// message and every received message is printed on its own line.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/ledzpl/chatrelay/internal/wire"
)

const dialTimeout = 5 * time.Second

// ErrDisconnected is returned by Run when the server closes the connection.
var ErrDisconnected = errors.New("client: disconnected from server")

// ParseAddress validates an "ip:port" pair.
func ParseAddress(text string) (string, error) {
	host, port, err := net.SplitHostPort(text)
	if err != nil {
		return "", fmt.Errorf("client: parse address %q: %w", text, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("client: invalid port in %q", text)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

// Client is a connected chat user.
type Client struct {
	conn *wire.Conn
}

// Dial connects to the relay at addr.
func Dial(ctx context.Context, addr string, opts wire.Options) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %q: %w", addr, err)
	}
	return &Client{conn: wire.New(conn, opts)}, nil
}

// Close drops the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Run relays in to the server and server messages to out until the input ends, the
// server disconnects (ErrDisconnected) or ctx is cancelled.
func (c *Client) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	defer c.conn.Close()

	received := make(chan error, 1)
	go func() {
		received <- c.readLoop(out)
	}()

	sent := make(chan error, 1)
	go func() {
		sent <- c.writeLoop(in)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-received:
		fmt.Fprintln(out, "Disconnected from server.")
		return ErrDisconnected
	case err := <-sent:
		return err
	}
}

func (c *Client) readLoop(out io.Writer) error {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, msg); err != nil {
			return err
		}
	}
}

func (c *Client) writeLoop(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := c.conn.WriteMessage(scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
