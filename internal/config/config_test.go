package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	want := Default()
	require.Equal(t, want.Port, cfg.Port)
	require.Equal(t, want.Framing, cfg.Framing)
	require.Equal(t, want.MailboxSize, cfg.MailboxSize)
	require.Equal(t, want.FlushTimeout, cfg.FlushTimeout)
	require.Equal(t, want.FallbackName, cfg.FallbackName)
	require.Empty(t, cfg.SSHAddr)
	require.Empty(t, cfg.HTTPAddr)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nmailbox_size: 8\nframing: length\nidle_timeout: 30s\n"), 0o600))

	t.Setenv("CHATROOM_MAILBOX_SIZE", "16")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 0, "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--port", "5000"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Port)
	require.Equal(t, 16, cfg.MailboxSize)
	require.Equal(t, "length", cfg.Framing)
	require.Equal(t, 30*time.Second, cfg.IdleTimeout)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, ":5000", cfg.Addr())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Port = 4000
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Framing = "xml"
	require.Error(t, bad.Validate())

	bad = cfg
	bad.MailboxSize = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.SSHAddr = "not an address"
	require.Error(t, bad.Validate())
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort("4000")
	require.NoError(t, err)
	require.Equal(t, 4000, port)

	_, err = ParsePort("0")
	require.Error(t, err)

	_, err = ParsePort("http")
	require.Error(t, err)
}

func TestYAMLRendersKeys(t *testing.T) {
	data, err := Default().YAML()
	require.NoError(t, err)
	require.Contains(t, string(data), "fallback_name: anonymous")
	require.Contains(t, string(data), "framing: line")
}
