package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for echo-gate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("echo-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: ECHO_GATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("ECHO_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// LoadDotEnv loads variables from path (".env" when empty) into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// findConfigFile searches standard locations for an echo-gate config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".echo-gate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\echo-gate (typically C:\ProgramData\echo-gate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "echo-gate"))
		}
	} else {
		paths = append(paths, "/etc/echo-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for echo-gate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "echo-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: ECHO_GATE_SERVER_HTTP_ADDR overrides server.http_addr
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.session_timeout")
	_ = viper.BindEnv("server.cleanup_interval")
	_ = viper.BindEnv("server.sse_keepalive")
	_ = viper.BindEnv("server.shutdown_timeout")

	// Comma separated: ECHO_GATE_CORS_ALLOWED_ORIGINS="http://a:1,http://b:2"
	_ = viper.BindEnv("cors.allowed_origins")

	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.session_rate")
	_ = viper.BindEnv("rate_limit.burst")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.max_ttl")

	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.output")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev) through
// LoadConfigRaw instead, then call SetDevDefaults and Validate.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
