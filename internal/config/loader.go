package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader.
const (
	EnvConfigPath        = "GATEWAY_CONFIG_PATH"
	EnvAddr              = "GATEWAY_ADDR"
	EnvJWTSecret         = "GATEWAY_JWT_SECRET"
	EnvAllowedOrigins    = "GATEWAY_ALLOWED_ORIGINS"
	EnvAddressPerMinute  = "GATEWAY_RATE_LIMIT_IP_PER_MINUTE"
	EnvUserPerMinute     = "GATEWAY_RATE_LIMIT_USER_PER_MINUTE"
	EnvMessagesPerSecond = "GATEWAY_RATE_LIMIT_MESSAGES_PER_SEC"
	EnvBurstMultiplier   = "GATEWAY_RATE_LIMIT_BURST_MULTIPLIER"
	EnvChannelCapacity   = "GATEWAY_ROOM_CHANNEL_CAPACITY"
	EnvLogLevel          = "GATEWAY_LOG_LEVEL"
	EnvLogFormat         = "GATEWAY_LOG_FORMAT"
)

// Load reads configuration from the given YAML file (optional), applies
// environment variable overrides, and validates the result. An empty path
// skips the file entirely; a missing file at a non-empty path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides configuration fields from environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v, ok := os.LookupEnv(EnvAllowedOrigins); ok {
		cfg.AllowedOrigins = splitOrigins(v)
	}
	setIntFromEnv(EnvAddressPerMinute, &cfg.RateLimit.AddressPerMinute)
	setIntFromEnv(EnvUserPerMinute, &cfg.RateLimit.UserPerMinute)
	setIntFromEnv(EnvMessagesPerSecond, &cfg.RateLimit.MessagesPerSecond)
	setIntFromEnv(EnvBurstMultiplier, &cfg.RateLimit.BurstMultiplier)
	setIntFromEnv(EnvChannelCapacity, &cfg.RoomChannelCapacity)
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Log.Format = v
	}
}

// setIntFromEnv parses the named environment variable into dst.
// Unset or unparsable values leave dst unchanged.
func setIntFromEnv(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

// splitOrigins splits a comma-separated origin list, trimming whitespace
// and dropping empty entries.
func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
