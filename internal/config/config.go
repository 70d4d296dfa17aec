// Package config reads the process configuration from the environment.
// Command-line flags override these values in the CLI.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment configuration of the timelock binary.
type Config struct {
	DBPath          string        `env:"TIMELOCK_DB"                envDefault:"timelock.db"`
	Manifest        string        `env:"TIMELOCK_MANIFEST"`
	LogLevel        string        `env:"TIMELOCK_LOG_LEVEL"         envDefault:"info"`
	HTTPAddr        string        `env:"TIMELOCK_HTTP_ADDR"         envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"TIMELOCK_SHUTDOWN_TIMEOUT"  envDefault:"10s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load returns the configuration with defaults applied.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
