package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
	SSHAddr        string        `mapstructure:"ssh_addr" yaml:"ssh_addr" validate:"omitempty,hostname_port"`
	SSHHostKey     string        `mapstructure:"ssh_host_key" yaml:"ssh_host_key"`
	HTTPAddr       string        `mapstructure:"http_addr" yaml:"http_addr" validate:"omitempty,hostname_port"`
	WSOrigins      []string      `mapstructure:"ws_origins" yaml:"ws_origins"`
	Framing        string        `mapstructure:"framing" yaml:"framing" validate:"oneof=line length"`
	MaxMessageSize int           `mapstructure:"max_message_size" yaml:"max_message_size" validate:"min=1,max=1048576"`
	MailboxSize    int           `mapstructure:"mailbox_size" yaml:"mailbox_size" validate:"min=1"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`
	FlushTimeout   time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout" validate:"min=0"`
	FallbackName   string        `mapstructure:"fallback_name" yaml:"fallback_name" validate:"required"`
	LogLevel       string        `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn warning error"`
}

// Default returns configuration with reasonable starter defaults. Port 0 means the
// port is asked for on the console.
func Default() Config {
	return Config{
		Host:           "",
		Port:           0,
		SSHHostKey:     "configs/ssh_host_ed25519",
		Framing:        "line",
		MaxMessageSize: 4096,
		MailboxSize:    64,
		FlushTimeout:   2 * time.Second,
		FallbackName:   "anonymous",
		LogLevel:       "info",
	}
}

// Addr returns the chat listener address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParsePort validates a console-entered port.
func ParsePort(text string) (int, error) {
	port, err := strconv.Atoi(text)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", text)
	}
	return port, nil
}
