package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledzpl/chatrelay/internal/app"
	"github.com/ledzpl/chatrelay/internal/config"
	"github.com/ledzpl/chatrelay/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "chatroom",
		Short:         "Multi-user TCP chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return fail(err)
			}
			if cfg.Port == 0 {
				if cfg.Port, err = promptPort(cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
					return fail(err)
				}
			}
			return fail(run(cmd.Context(), cfg))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "configs/chatroom.yaml", "path to a YAML config file (optional)")
	flags.String("host", "", "chat listener host")
	flags.IntP("port", "p", 0, "chat listener port (0 asks on the console)")
	flags.String("ssh-addr", "", "SSH terminal listener address (empty disables)")
	flags.String("ssh-host-key", "configs/ssh_host_ed25519", "SSH host private key (generated if missing)")
	flags.String("http-addr", "", "HTTP and WebSocket listener address (empty disables)")
	flags.StringSlice("ws-origins", nil, "allowed WebSocket origin patterns")
	flags.String("framing", "line", "chat framing: line or length")
	flags.Int("max-message-size", 4096, "maximum message size in bytes")
	flags.Int("mailbox-size", 64, "messages queued per member before dropping")
	flags.Duration("idle-timeout", 0, "disconnect members idle this long (0 disables)")
	flags.Duration("flush-timeout", 2*time.Second, "time allowed to flush queued messages on leave")
	flags.String("fallback-name", "anonymous", "base for generated member names")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newConfigCmd(&configPath))
	return root
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath, cmd.Flags())
			if err != nil {
				return fail(err)
			}
			data, err := cfg.YAML()
			if err != nil {
				return fail(err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func run(parent context.Context, cfg config.Config) error {
	logger := log.New(cfg.LogLevel)

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// promptPort asks for a port until a valid one is entered.
func promptPort(in io.Reader, out io.Writer) (int, error) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "Enter port to start server: ")
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			port, parseErr := config.ParsePort(line)
			if parseErr == nil {
				return port, nil
			}
			fmt.Fprintln(out, parseErr)
		}
		if err != nil {
			return 0, fmt.Errorf("read port: %w", err)
		}
	}
}

func fail(err error) error {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}
