package main

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Addr:            ":9090",
		MaxFrameBytes:   65536,
		AcceptRate:      0,
		AcceptBurst:     50,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"zero frame bytes", func(c *Config) { c.MaxFrameBytes = 0 }},
		{"rate without burst", func(c *Config) { c.AcceptRate = 5; c.AcceptBurst = 0 }},
		{"negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestAcceptLimiterDisabled(t *testing.T) {
	limiter := NewAcceptLimiter(0, 0)
	for i := 0; i < 1000; i++ {
		if !limiter.Allow() {
			t.Fatal("Disabled limiter rejected a connection")
		}
	}
}

func TestAcceptLimiterBurst(t *testing.T) {
	limiter := NewAcceptLimiter(1, 2)

	if !limiter.Allow() || !limiter.Allow() {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if limiter.Allow() {
		t.Error("Expected third immediate connection to be rejected")
	}
}
