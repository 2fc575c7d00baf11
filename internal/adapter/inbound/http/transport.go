package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/echogate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/echogate/internal/domain/session"
	"github.com/Sentinel-Gate/echogate/internal/port/inbound"
)

// DefaultAllowedOrigins are the browser origins allowed when none are configured.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// HTTPTransport is the inbound adapter that serves MCP sessions over
// Streamable HTTP.
type HTTPTransport struct {
	dispatcher      *Dispatcher
	registry        session.Registry
	server          *http.Server
	addr            string
	allowedOrigins  []string
	corsDebug       bool
	shutdownTimeout time.Duration
	logger          *slog.Logger
	promRegistry    *prometheus.Registry
	metrics         *Metrics
	healthChecker   *HealthChecker
	version         string
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithAllowedOrigins sets the CORS origin allow-list.
// Example: []string{"https://example.com", "http://localhost:3000"}
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithCORSDebug logs CORS decisions through the transport logger at debug level.
func WithCORSDebug(enabled bool) Option {
	return func(t *HTTPTransport) {
		t.corsDebug = enabled
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics serves reg at /metrics and records request metrics into m.
// Without it the transport builds its own registry.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.promRegistry = reg
		t.metrics = m
	}
}

// WithRateLimiter limits session creation per client IP.
func WithRateLimiter(limiter ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) Option {
	return func(t *HTTPTransport) {
		t.dispatcher.limiter = limiter
		t.dispatcher.limitConfig = cfg
	}
}

// WithSSEKeepalive sets the interval of keepalive comments on event
// streams. Zero disables them.
func WithSSEKeepalive(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.dispatcher.sseKeepalive = d
	}
}

// WithShutdownTimeout bounds graceful shutdown. Default is 10s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(t *HTTPTransport) {
		t.version = version
	}
}

// NewHTTPTransport creates an HTTP transport serving the sessions in registry.
// New sessions get their channel from factory.
func NewHTTPTransport(registry session.Registry, factory inbound.ChannelFactory, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		dispatcher:      NewDispatcher(registry, factory, nil),
		registry:        registry,
		addr:            "127.0.0.1:8080",
		allowedOrigins:  DefaultAllowedOrigins,
		shutdownTimeout: 10 * time.Second,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.promRegistry == nil {
		t.promRegistry = prometheus.NewRegistry()
		t.promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(t.promRegistry, func() float64 {
			return float64(registry.Count())
		})
	}
	t.dispatcher.metrics = t.metrics
	t.dispatcher.logger = t.logger
	t.healthChecker = NewHealthChecker(registry, t.version)

	return t
}

// Metrics returns the metrics the transport records into.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// Handler builds the full handler tree: the middleware chain around /mcp
// plus /health and /metrics.
func (t *HTTPTransport) Handler() http.Handler {
	var corsLogger *slog.Logger
	if t.corsDebug {
		corsLogger = t.logger
	}

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RequestID - Extract/generate request ID and enrich logger
	// 3. Recover - Panics become a -32603 envelope logged with the request logger
	// 4. CORS - Origin echo and preflight, before any handler can fail
	// 5. ProtocolVersion - MCP-Protocol-Version header
	// 6. RealIP - Extract client IP from X-Forwarded-For
	mux := http.NewServeMux()
	mux.Handle("/health", t.healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(t.promRegistry, promhttp.HandlerOpts{
		Registry: t.promRegistry,
	}))
	mux.Handle("/mcp", t.dispatcher)

	var handler http.Handler = mux
	handler = RealIPMiddleware(handler)
	handler = ProtocolVersionMiddleware(handler)
	handler = CORSMiddleware(t.allowedOrigins, corsLogger)(handler)
	handler = RecoverMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	if t.metrics != nil {
		handler = MetricsMiddleware(t.metrics)(handler)
	}
	return handler
}

// Start begins accepting HTTP connections and serving MCP sessions.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown closes every session, then gracefully shuts down the HTTP server.
// Closing sessions first ends open event streams, which Shutdown would
// otherwise wait on.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	t.registry.CloseAll()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

// Compile-time check that HTTPTransport implements the Server port.
var _ inbound.Server = (*HTTPTransport)(nil)
