package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ledzpl/chatrelay/internal/client"
	"github.com/ledzpl/chatrelay/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		framing string
		maxSize int
	)

	root := &cobra.Command{
		Use:           "chatuser [ip:port]",
		Short:         "Connect to a chat relay",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := wire.ParseFraming(framing)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			var addr string
			if len(args) == 1 {
				addr = args[0]
			}
			c, err := connect(ctx, in, out, addr, wire.Options{Framing: f, MaxMessageSize: maxSize})
			if err != nil {
				return ignoreEOF(err)
			}

			err = c.Run(ctx, in, out)
			if errors.Is(err, client.ErrDisconnected) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	root.Flags().StringVar(&framing, "framing", string(wire.FramingLine), "chat framing: line or length")
	root.Flags().IntVar(&maxSize, "max-message-size", wire.DefaultMaxMessageSize, "maximum message size in bytes")
	return root
}

// connect dials addr, or keeps asking for an address until a dial succeeds.
func connect(ctx context.Context, in *bufio.Reader, out io.Writer, addr string, opts wire.Options) (*client.Client, error) {
	for {
		if addr == "" {
			fmt.Fprint(out, "Enter server IP and port (format: ip:port): ")
			line, err := in.ReadString('\n')
			addr = strings.TrimSpace(line)
			if addr == "" && err != nil {
				return nil, err
			}
		}

		target, err := client.ParseAddress(addr)
		if err == nil {
			var c *client.Client
			if c, err = client.Dial(ctx, target, opts); err == nil {
				fmt.Fprintln(out, "Connected to chatroom!")
				return c, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fmt.Fprintln(out, "Failed to connect. Try again.")
		addr = ""
	}
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
