// Package config provides configuration loading and validation for the
// gateway. Configuration comes from an optional YAML file with environment
// variable overrides; the environment always wins.
package config

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":9000"

	// DefaultAddressPerMinute is the default per-address connection
	// admission rate.
	DefaultAddressPerMinute = 60

	// DefaultUserPerMinute is the default per-user connection admission
	// rate.
	DefaultUserPerMinute = 30

	// DefaultMessagesPerSecond is the default per-connection message rate.
	DefaultMessagesPerSecond = 50

	// DefaultBurstMultiplier scales a steady rate into a burst capacity.
	DefaultBurstMultiplier = 2

	// DefaultRoomChannelCapacity is the per-subscriber backlog capacity of
	// a room channel.
	DefaultRoomChannelCapacity = 100

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config is the root gateway configuration.
type Config struct {
	// Addr is the listen address for the HTTP/WebSocket server.
	Addr string `yaml:"addr"`

	// JWTSecret is the shared HMAC secret used to verify bearer tokens.
	JWTSecret string `yaml:"jwtSecret"`

	// AllowedOrigins is the Origin allow-list for the WebSocket handshake.
	// Empty means all origins are accepted (development mode).
	AllowedOrigins []string `yaml:"allowedOrigins"`

	// RateLimit configures the three admission limiter families.
	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// RoomChannelCapacity is the per-subscriber backlog capacity of a room
	// channel. When a subscriber falls this many messages behind, its
	// oldest unread messages are discarded.
	RoomChannelCapacity int `yaml:"roomChannelCapacity"`

	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// RateLimitConfig holds admission rates for the address, user, and
// connection limiter families.
type RateLimitConfig struct {
	// AddressPerMinute is the number of connection admissions allowed per
	// client address per minute.
	AddressPerMinute int `yaml:"addressPerMinute"`

	// UserPerMinute is the number of connection admissions allowed per
	// authenticated user per minute.
	UserPerMinute int `yaml:"userPerMinute"`

	// MessagesPerSecond is the number of inbound messages allowed per
	// connection per second.
	MessagesPerSecond int `yaml:"messagesPerSecond"`

	// BurstMultiplier scales each steady rate into the bucket's burst
	// capacity. 1 means no burst allowance beyond the steady rate.
	BurstMultiplier int `yaml:"burstMultiplier"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Addr: DefaultAddr,
		RateLimit: RateLimitConfig{
			AddressPerMinute:  DefaultAddressPerMinute,
			UserPerMinute:     DefaultUserPerMinute,
			MessagesPerSecond: DefaultMessagesPerSecond,
			BurstMultiplier:   DefaultBurstMultiplier,
		},
		RoomChannelCapacity: DefaultRoomChannelCapacity,
		ShutdownTimeout:     DefaultShutdownTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwtSecret must not be empty")
	}
	if c.RateLimit.AddressPerMinute <= 0 {
		return fmt.Errorf("rateLimit.addressPerMinute must be positive, got %d", c.RateLimit.AddressPerMinute)
	}
	if c.RateLimit.UserPerMinute <= 0 {
		return fmt.Errorf("rateLimit.userPerMinute must be positive, got %d", c.RateLimit.UserPerMinute)
	}
	if c.RateLimit.MessagesPerSecond <= 0 {
		return fmt.Errorf("rateLimit.messagesPerSecond must be positive, got %d", c.RateLimit.MessagesPerSecond)
	}
	if c.RateLimit.BurstMultiplier <= 0 {
		return fmt.Errorf("rateLimit.burstMultiplier must be positive, got %d", c.RateLimit.BurstMultiplier)
	}
	if c.RoomChannelCapacity <= 0 {
		return fmt.Errorf("roomChannelCapacity must be positive, got %d", c.RoomChannelCapacity)
	}
	return nil
}

// IsOriginAllowed reports whether the given Origin header value is accepted.
// An empty allow-list accepts every origin.
func (c *Config) IsOriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
