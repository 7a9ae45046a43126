package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Version is the host version extensions declare compatibility against.
const Version = "2.3.0"

// Config holds everything an App instance needs to run. Fields come from the
// environment with PLUGBOARD_* names; the CLI layers flag overrides on top.
type Config struct {
	ExtensionsDir string `env:"PLUGBOARD_EXTENSIONS_DIR" envDefault:"extensions"`
	DatabasePath  string `env:"PLUGBOARD_DB" envDefault:"plugboard.db"`

	LogFormat string `env:"PLUGBOARD_LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"PLUGBOARD_LOG_LEVEL" envDefault:"info"`

	// HTTPPort serves the health endpoint and the socket.io event stream.
	// Zero disables the HTTP server.
	HTTPPort int `env:"PLUGBOARD_PORT" envDefault:"8080"`

	// DevMode turns on the hot reload watcher.
	DevMode       bool          `env:"PLUGBOARD_DEV" envDefault:"false"`
	WatchInterval time.Duration `env:"PLUGBOARD_WATCH_INTERVAL" envDefault:"2s"`
	WatchQuiet    time.Duration `env:"PLUGBOARD_WATCH_QUIET" envDefault:"500ms"`

	// StrictCompatibility turns host-range mismatches into hard errors.
	StrictCompatibility bool `env:"PLUGBOARD_STRICT_COMPAT" envDefault:"false"`

	// DegradeFailedIntegrations skips an integration's remaining hooks after
	// its first failure instead of calling into it again.
	DegradeFailedIntegrations bool `env:"PLUGBOARD_DEGRADE_FAILED" envDefault:"true"`
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the App cannot start with.
func (c *Config) Validate() error {
	if c.ExtensionsDir == "" {
		return errors.New("extensions directory is required")
	}
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", c.LogLevel)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid port %d", c.HTTPPort)
	}
	return nil
}
