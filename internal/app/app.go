package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"

	"github.com/ledzpl/chatrelay/internal/chat"
	"github.com/ledzpl/chatrelay/internal/config"
	"github.com/ledzpl/chatrelay/internal/terminal"
	"github.com/ledzpl/chatrelay/internal/web"
	"github.com/ledzpl/chatrelay/internal/wire"
	"github.com/ledzpl/chatrelay/pkg/sshserver"
	"github.com/ledzpl/chatrelay/pkg/tcpserver"
)

// App wires the registry to every configured listener.
type App struct {
	cfg      config.Config
	framing  wire.Framing
	registry *chat.Registry
	log      zerolog.Logger
}

// Listeners holds bound listeners. Chat is required; SSH and HTTP are optional.
type Listeners struct {
	Chat net.Listener
	SSH  net.Listener
	HTTP net.Listener
}

// New validates cfg and constructs the application.
func New(cfg config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	framing, err := wire.ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}

	registry := chat.NewRegistry(
		chat.WithLogger(logger.With().Str("component", "registry").Logger()),
		chat.WithFallbackName(cfg.FallbackName),
	)

	return &App{
		cfg:      cfg,
		framing:  framing,
		registry: registry,
		log:      logger,
	}, nil
}

// Registry returns the shared member registry.
func (a *App) Registry() *chat.Registry {
	return a.registry
}

// Run binds every configured listener and serves until ctx is cancelled. A listener
// that cannot be bound is returned as an error before anything is served.
func (a *App) Run(ctx context.Context) error {
	listeners, err := a.listen()
	if err != nil {
		return err
	}
	return a.Serve(ctx, listeners)
}

func (a *App) listen() (Listeners, error) {
	var ls Listeners

	chatLn, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return ls, fmt.Errorf("error starting server: %w", err)
	}
	ls.Chat = chatLn

	if a.cfg.SSHAddr != "" {
		if ls.SSH, err = net.Listen("tcp", a.cfg.SSHAddr); err != nil {
			ls.close()
			return Listeners{}, fmt.Errorf("listen ssh %q: %w", a.cfg.SSHAddr, err)
		}
	}
	if a.cfg.HTTPAddr != "" {
		if ls.HTTP, err = net.Listen("tcp", a.cfg.HTTPAddr); err != nil {
			ls.close()
			return Listeners{}, fmt.Errorf("listen http %q: %w", a.cfg.HTTPAddr, err)
		}
	}
	return ls, nil
}

func (ls Listeners) close() {
	for _, l := range []net.Listener{ls.Chat, ls.SSH, ls.HTTP} {
		if l != nil {
			_ = l.Close()
		}
	}
}

// Serve runs the chat, SSH and HTTP servers on the given listeners. The first server
// to fail stops the others. Cancellation of ctx is a clean shutdown.
func (a *App) Serve(ctx context.Context, ls Listeners) error {
	if ls.Chat == nil {
		ls.close()
		return errors.New("app: chat listener required")
	}

	var signer ssh.Signer
	if ls.SSH != nil {
		var err error
		if signer, err = sshserver.LoadOrGenerateSigner(a.cfg.SSHHostKey); err != nil {
			ls.close()
			return fmt.Errorf("prepare host key: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		server := tcpserver.New(ls.Chat.Addr().String(), a.log)
		a.log.Info().Str("addr", ls.Chat.Addr().String()).Msg("chatroom server started")
		return server.Serve(ctx, ls.Chat, a.handleTCP)
	})

	if ls.SSH != nil {
		g.Go(func() error {
			server := sshserver.New(ls.SSH.Addr().String(), signer, a.log)
			return server.Serve(ctx, ls.SSH, a.handleSSH)
		})
	}

	if ls.HTTP != nil {
		g.Go(func() error {
			server := web.New(a.registry, a.runSession, web.Options{
				Origins:        a.cfg.WSOrigins,
				MaxMessageSize: int64(a.cfg.MaxMessageSize),
				IdleTimeout:    a.cfg.IdleTimeout,
			}, a.log)
			return server.Serve(ctx, ls.HTTP)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) runSession(conn chat.Conn) {
	session := chat.NewSession(a.registry, conn,
		chat.WithMailboxSize(a.cfg.MailboxSize),
		chat.WithFlushTimeout(a.cfg.FlushTimeout),
		chat.WithSessionLogger(a.log),
	)
	session.Run()
}

func (a *App) handleTCP(_ context.Context, conn net.Conn) {
	a.runSession(wire.New(conn, wire.Options{
		Framing:        a.framing,
		MaxMessageSize: a.cfg.MaxMessageSize,
		IdleTimeout:    a.cfg.IdleTimeout,
	}))
}

func (a *App) handleSSH(sshConn *ssh.ServerConn, channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	conn, err := terminal.Accept(channel, requests, a.cfg.MaxMessageSize)
	if err != nil {
		if !errors.Is(err, terminal.ErrShellNotRequested) {
			a.log.Warn().Err(err).Str("user", sshConn.User()).Msg("ssh session setup failed")
		}
		return
	}
	a.runSession(conn)
}
