package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a defaulted Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{CORS: CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// Every field is optional; a zero config must validate before defaults.
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero config error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad listen address",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "localhost" },
			wantErr: "must be a valid host:port",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "must be one of",
		},
		{
			name:    "unparseable duration",
			mutate:  func(c *Config) { c.Server.SessionTimeout = "ten minutes" },
			wantErr: "must be a non-negative duration",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Server.SSEKeepalive = "-5s" },
			wantErr: "must be a non-negative duration",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = "0s" },
			wantErr: "shutdown_timeout must be greater than zero",
		},
		{
			name:    "origin with path",
			mutate:  func(c *Config) { c.CORS.AllowedOrigins = []string{"http://localhost:3000/app"} },
			wantErr: "must be an origin",
		},
		{
			name:    "origin without scheme",
			mutate:  func(c *Config) { c.CORS.AllowedOrigins = []string{"localhost:3000"} },
			wantErr: "must be an origin",
		},
		{
			name:    "negative session rate",
			mutate:  func(c *Config) { c.RateLimit.SessionRate = -1 },
			wantErr: "must be at least 1",
		},
		{
			name:    "unknown tracing output",
			mutate:  func(c *Config) { c.Tracing.Output = "otlp" },
			wantErr: "must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_RateLimitEnabledWithoutLimits(t *testing.T) {
	t.Parallel()

	cfg := &Config{RateLimit: RateLimitConfig{Enabled: true}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for enabled limiter without a rate")
	}
	if !strings.Contains(err.Error(), "session_rate") {
		t.Errorf("Validate() error = %q, want mention of session_rate", err.Error())
	}
}

func TestValidate_Origins(t *testing.T) {
	t.Parallel()

	valid := []string{
		"http://localhost:3000",
		"https://app.example.com",
		"https://app.example.com/",
		"http://127.0.0.1:8080",
	}
	for _, origin := range valid {
		cfg := minimalValidConfig()
		cfg.CORS.AllowedOrigins = []string{origin}
		if err := cfg.Validate(); err != nil {
			t.Errorf("origin %q: unexpected error %v", origin, err)
		}
	}

	invalid := []string{
		"ftp://example.com",
		"https://",
		"https://user@example.com",
		"https://example.com?x=1",
	}
	for _, origin := range invalid {
		cfg := minimalValidConfig()
		cfg.CORS.AllowedOrigins = []string{origin}
		if err := cfg.Validate(); err == nil {
			t.Errorf("origin %q: expected error", origin)
		}
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Tracing.Output = "file"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if strings.Count(err.Error(), ";") != 1 {
		t.Errorf("Validate() error = %q, want two messages joined by ';'", err.Error())
	}
}
