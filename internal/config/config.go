// Package config defines service configuration and its loading chain.
package config

import (
	"context"
	"fmt"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreBackend selects the document store: memory or postgres.
	StoreBackend string `koanf:"store_backend"`

	// DatabaseURL is the Postgres DSN. Required for the postgres backend.
	DatabaseURL string `koanf:"database_url"`

	// RedisURL enables the cross-instance new_bid relay when set.
	RedisURL string `koanf:"redis_url"`

	// RelayChannel is the pub/sub channel used by the relay.
	RelayChannel string `koanf:"relay_channel"`

	// JWTSecret verifies bid socket tokens. Empty means every bidder is anonymous.
	JWTSecret string `koanf:"jwt_secret"`

	// OutboundQueueSize bounds each socket's pending outbound frames.
	OutboundQueueSize int `koanf:"outbound_queue_size"`

	// Bid transaction retry bounds.
	BidMaxAttempts   int `koanf:"bid_max_attempts"`
	BidBackoffBaseMS int `koanf:"bid_backoff_base_ms"`
	BidBackoffMaxMS  int `koanf:"bid_backoff_max_ms"`

	// Socket tuning.
	WSWriteTimeoutMS int   `koanf:"ws_write_timeout_ms"`
	WSPingIntervalMS int   `koanf:"ws_ping_interval_ms"`
	WSReadLimitBytes int64 `koanf:"ws_read_limit_bytes"`
}

// New returns a Config populated with defaults.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Addr:              ":9080",
		StoreBackend:      BackendMemory,
		RelayChannel:      "jobboard:new_bid",
		OutboundQueueSize: 256,
		BidMaxAttempts:    5,
		BidBackoffBaseMS:  10,
		BidBackoffMaxMS:   200,
		WSWriteTimeoutMS:  10_000,
		WSPingIntervalMS:  30_000,
		WSReadLimitBytes:  64 << 10,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreBackend != BackendMemory && c.StoreBackend != BackendPostgres:
		return fmt.Errorf("%w: unknown store_backend %q", ErrInvalidConfig, c.StoreBackend)
	case c.StoreBackend == BackendPostgres && c.DatabaseURL == "":
		return fmt.Errorf("%w: database_url is required for the postgres backend", ErrInvalidConfig)
	case c.RedisURL != "" && c.RelayChannel == "":
		return fmt.Errorf("%w: relay_channel must not be empty", ErrInvalidConfig)
	}
	sizes := []struct {
		key string
		val int64
	}{
		{"outbound_queue_size", int64(c.OutboundQueueSize)},
		{"bid_max_attempts", int64(c.BidMaxAttempts)},
		{"bid_backoff_base_ms", int64(c.BidBackoffBaseMS)},
		{"bid_backoff_max_ms", int64(c.BidBackoffMaxMS)},
		{"ws_write_timeout_ms", int64(c.WSWriteTimeoutMS)},
		{"ws_ping_interval_ms", int64(c.WSPingIntervalMS)},
		{"ws_read_limit_bytes", c.WSReadLimitBytes},
	}
	for _, s := range sizes {
		if s.val <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, s.key)
		}
	}
	if c.BidBackoffMaxMS < c.BidBackoffBaseMS {
		return fmt.Errorf("%w: bid_backoff_max_ms must not be below bid_backoff_base_ms", ErrInvalidConfig)
	}
	return nil
}

// BidBackoffBase returns the first retry pause.
func (c *Config) BidBackoffBase() time.Duration { return ms(c.BidBackoffBaseMS) }

// BidBackoffMax returns the retry pause ceiling.
func (c *Config) BidBackoffMax() time.Duration { return ms(c.BidBackoffMaxMS) }

// WSWriteTimeout returns the per-frame write deadline.
func (c *Config) WSWriteTimeout() time.Duration { return ms(c.WSWriteTimeoutMS) }

// WSPingInterval returns the keepalive period.
func (c *Config) WSPingInterval() time.Duration { return ms(c.WSPingIntervalMS) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
