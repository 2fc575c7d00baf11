// Package config provides configuration types for echo-gate.
//
// Configuration is file based (echo-gate.yaml) with environment overrides
// (ECHO_GATE_*). Every field is optional; SetDefaults fills the gaps.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for echo-gate.
type Config struct {
	// Server configures the HTTP listener and session lifecycle.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// CORS configures browser access.
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`

	// RateLimit configures optional per-IP session creation limits.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Tracing configures OpenTelemetry spans for session dispatch.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (verbose logging, CORS decision logs).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// No TLS: put a reverse proxy in front for HTTPS.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// SessionTimeout closes sessions idle for longer than this (e.g., "30m").
	// Empty disables the idle reaper: sessions live until deleted or shutdown.
	SessionTimeout string `yaml:"session_timeout" mapstructure:"session_timeout" validate:"omitempty,duration"`

	// CleanupInterval is how often the idle reaper runs. Defaults to "1m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// SSEKeepalive is the interval of keepalive comments on event streams.
	// Defaults to "30s"; "0" disables keepalives.
	SSEKeepalive string `yaml:"sse_keepalive" mapstructure:"sse_keepalive" validate:"omitempty,duration"`

	// ShutdownTimeout bounds graceful shutdown. Defaults to "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`
}

// CORSConfig configures cross-origin browser access.
type CORSConfig struct {
	// AllowedOrigins lists origins (scheme://host[:port]) that may read responses.
	// Defaults to the common local dev servers when not set at all.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,origin"`
}

// RateLimitConfig configures rate limiting of session creation.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Off by default.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// SessionRate is the maximum new sessions per minute per client IP.
	// Defaults to 60.
	SessionRate int `yaml:"session_rate" mapstructure:"session_rate" validate:"omitempty,min=1"`

	// Burst is how many sessions a client may create back to back.
	// Defaults to 10.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`

	// CleanupInterval is how often to clean up expired rate limit entries (e.g., "5m").
	// Defaults to "5m" if not specified.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is the maximum age of a rate limit entry before removal (e.g., "1h").
	// Defaults to "1h" if not specified.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Output is where spans are written: "stdout" or "stderr".
	Output string `yaml:"output" mapstructure:"output" validate:"omitempty,oneof=stdout stderr"`
}

// DefaultAllowedOrigins are used when cors.allowed_origins is not configured.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// SetDevDefaults applies development mode overrides.
// Applied BEFORE validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only for security.
	// Users who need network access must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.CleanupInterval == "" {
		c.Server.CleanupInterval = "1m"
	}
	if c.Server.SSEKeepalive == "" {
		c.Server.SSEKeepalive = "30s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	// An explicitly empty list keeps every browser origin out.
	if c.CORS.AllowedOrigins == nil && !viper.IsSet("cors.allowed_origins") {
		c.CORS.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}

	// Sub-defaults are always populated so enabling the limiter needs one key.
	if c.RateLimit.SessionRate == 0 {
		c.RateLimit.SessionRate = 60
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 10
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Tracing.Output == "" {
		c.Tracing.Output = "stderr"
	}
}

// parseDuration parses s, returning 0 for an empty or invalid value.
// Validate rejects invalid values before they get here.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// SessionTimeoutDuration returns the idle timeout, 0 when the reaper is off.
func (s ServerConfig) SessionTimeoutDuration() time.Duration {
	return parseDuration(s.SessionTimeout)
}

// CleanupIntervalDuration returns how often the idle reaper runs.
func (s ServerConfig) CleanupIntervalDuration() time.Duration {
	return parseDuration(s.CleanupInterval)
}

// SSEKeepaliveDuration returns the keepalive interval, 0 when disabled.
func (s ServerConfig) SSEKeepaliveDuration() time.Duration {
	return parseDuration(s.SSEKeepalive)
}

// ShutdownTimeoutDuration returns the graceful shutdown bound.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(s.ShutdownTimeout)
}

// CleanupIntervalDuration returns how often stale limiter buckets are dropped.
func (r RateLimitConfig) CleanupIntervalDuration() time.Duration {
	return parseDuration(r.CleanupInterval)
}

// MaxTTLDuration returns how long an idle limiter bucket is kept.
func (r RateLimitConfig) MaxTTLDuration() time.Duration {
	return parseDuration(r.MaxTTL)
}
