package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Sentinel-Gate/echogate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/echogate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/echogate/internal/config"
	"github.com/Sentinel-Gate/echogate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/echogate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server",
	Long: `Start the echo-gate server.

The server listens on server.http_addr (default 127.0.0.1:8080) and serves
MCP at /mcp, liveness at /health and Prometheus metrics at /metrics.

Examples:
  # Start with config file settings
  echo-gate start

  # Start with verbose logging
  echo-gate start --dev

  # Start with a specific config file
  echo-gate --config /path/to/echo-gate.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, CORS decision logs)")
	rootCmd.AddCommand(startCmd)
}

// loadStartConfig loads the config, lets the --dev flag override the file,
// then applies dev defaults and validates.
func loadStartConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadStartConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled")
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("echo-gate stopped")
	return nil
}

// run wires the registry, channel factory, limiter and transport together
// and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tp, shutdownTracing, err := newTracerProvider(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush spans", "error", err)
		}
	}()

	registry := memory.NewSessionRegistryWithConfig(
		cfg.Server.SessionTimeoutDuration(),
		cfg.Server.CleanupIntervalDuration(),
		logger,
	)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := http.NewMetrics(promRegistry, func() float64 {
		return float64(registry.Count())
	})
	registry.SetEvictionHook(metrics.ObserveSessionClosed)

	registry.StartCleanup(ctx)
	defer registry.Stop()
	if timeout := cfg.Server.SessionTimeoutDuration(); timeout > 0 {
		logger.Info("idle session reaper started", "timeout", timeout)
	}

	factory := service.NewChannelFactory(
		service.WithLogger(logger),
		service.WithTracerProvider(tp),
		service.WithServerInfo("echo-gate", Version),
		service.WithToolCallObserver(metrics.ObserveToolCall),
	)

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		http.WithCORSDebug(cfg.DevMode),
		http.WithLogger(logger),
		http.WithMetrics(promRegistry, metrics),
		http.WithSSEKeepalive(cfg.Server.SSEKeepaliveDuration()),
		http.WithShutdownTimeout(cfg.Server.ShutdownTimeoutDuration()),
		http.WithVersion(Version),
	}

	if cfg.RateLimit.Enabled {
		limiter := memory.NewRateLimiterWithConfig(
			cfg.RateLimit.CleanupIntervalDuration(),
			cfg.RateLimit.MaxTTLDuration(),
		)
		limiter.StartCleanup(ctx)
		defer limiter.Stop()

		opts = append(opts, http.WithRateLimiter(limiter, ratelimit.RateLimitConfig{
			Rate:   cfg.RateLimit.SessionRate,
			Burst:  cfg.RateLimit.Burst,
			Period: time.Minute,
		}))
		logger.Info("session rate limiting enabled",
			"rate_per_minute", cfg.RateLimit.SessionRate,
			"burst", cfg.RateLimit.Burst)
	}

	transport := http.NewHTTPTransport(registry, factory, opts...)

	logger.Info("echo-gate ready",
		"addr", cfg.Server.HTTPAddr,
		"version", Version,
		"allowed_origins", len(cfg.CORS.AllowedOrigins))

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	return nil
}

// newTracerProvider returns a provider exporting spans to stdout or stderr
// when tracing is enabled, and a no-op provider otherwise.
func newTracerProvider(cfg config.TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	var w io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return tp, tp.Shutdown, nil
}

// parseLogLevel converts a config log level to slog.Level.
// Unknown values fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
