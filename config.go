package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all server configuration.
//
// Priority: ENV vars > .env file > defaults.
type Config struct {
	// Server basics
	Addr string `env:"HUB_ADDR" envDefault:":9090"`

	// Websocket limits
	MaxFrameBytes int64 `env:"HUB_MAX_FRAME_BYTES" envDefault:"65536"`

	// Connection-accept rate limiting (token bucket).
	// AcceptRate <= 0 disables the limiter entirely.
	AcceptRate  float64 `env:"HUB_ACCEPT_RATE" envDefault:"0"`
	AcceptBurst int     `env:"HUB_ACCEPT_BURST" envDefault:"50"`

	// Shutdown
	ShutdownTimeout time.Duration `env:"HUB_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from an optional .env file and the
// environment. A missing .env file is not an error.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("HUB_ADDR is required")
	}
	if c.MaxFrameBytes < 1 {
		return fmt.Errorf("HUB_MAX_FRAME_BYTES must be > 0, got %d", c.MaxFrameBytes)
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return fmt.Errorf("HUB_ACCEPT_BURST must be > 0 when rate limiting is enabled, got %d", c.AcceptBurst)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("HUB_SHUTDOWN_TIMEOUT must be >= 0, got %s", c.ShutdownTimeout)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}

	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}
