package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CHATROOM"

// Load builds configuration from defaults, an optional config file, env vars and
// flags. Precedence: defaults < config file < env vars < flags. A missing file at
// path is not an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("ssh_addr", cfg.SSHAddr)
	v.SetDefault("ssh_host_key", cfg.SSHHostKey)
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("ws_origins", cfg.WSOrigins)
	v.SetDefault("framing", cfg.Framing)
	v.SetDefault("max_message_size", cfg.MaxMessageSize)
	v.SetDefault("mailbox_size", cfg.MailboxSize)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("flush_timeout", cfg.FlushTimeout)
	v.SetDefault("fallback_name", cfg.FallbackName)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return cfg, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// bindFlags binds every flag whose name maps to a config key (dashes become underscores).
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isConfigKey(key) {
			return
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %q: %w", f.Name, err)
		}
	})
	return bindErr
}

func isConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

var configKeys = map[string]struct{}{
	"host": {}, "port": {}, "ssh_addr": {}, "ssh_host_key": {}, "http_addr": {},
	"ws_origins": {}, "framing": {}, "max_message_size": {}, "mailbox_size": {},
	"idle_timeout": {}, "flush_timeout": {}, "fallback_name": {}, "log_level": {},
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// YAML renders the configuration as a YAML document.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
