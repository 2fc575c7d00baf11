// Package service contains the session channel served behind each MCP session.
package service

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/echogate/internal/ctxkey"
	"github.com/Sentinel-Gate/echogate/internal/domain/session"
	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

const tracerName = "github.com/Sentinel-Gate/echogate/internal/service"

// defaultEventBuffer is the per-subscriber event queue length.
const defaultEventBuffer = 16

// ToolCallObserver is notified after every tools/call with the tool name
// and whether the result was an error result.
type ToolCallObserver func(tool string, isError bool)

// loggerFromContext retrieves the enriched logger from context.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// ChannelFactory creates an EchoChannel per session.
type ChannelFactory struct {
	logger       *slog.Logger
	tracer       trace.Tracer
	serverInfo   mcp.Implementation
	instructions string
	observer     ToolCallObserver
	eventBuffer  int
}

// ChannelOption configures a ChannelFactory.
type ChannelOption func(*ChannelFactory)

// WithLogger sets the base logger; channels add their session_id.
func WithLogger(logger *slog.Logger) ChannelOption {
	return func(f *ChannelFactory) {
		f.logger = logger
	}
}

// WithTracerProvider sets where dispatch spans are recorded.
// Default is the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) ChannelOption {
	return func(f *ChannelFactory) {
		f.tracer = tp.Tracer(tracerName)
	}
}

// WithServerInfo sets the name and version reported from initialize.
func WithServerInfo(name, version string) ChannelOption {
	return func(f *ChannelFactory) {
		f.serverInfo = mcp.Implementation{Name: name, Version: version}
	}
}

// WithToolCallObserver registers fn to be told about every tool call.
func WithToolCallObserver(fn ToolCallObserver) ChannelOption {
	return func(f *ChannelFactory) {
		f.observer = fn
	}
}

// WithEventBuffer sets the per-subscriber event queue length.
func WithEventBuffer(n int) ChannelOption {
	return func(f *ChannelFactory) {
		if n > 0 {
			f.eventBuffer = n
		}
	}
}

// NewChannelFactory creates a factory with the given options.
func NewChannelFactory(opts ...ChannelOption) *ChannelFactory {
	f := &ChannelFactory{
		logger:       slog.Default(),
		tracer:       otel.Tracer(tracerName),
		serverInfo:   mcp.Implementation{Name: "echo-gate", Version: "dev"},
		instructions: "Call the echo tool with a message argument to get it back unchanged.",
		eventBuffer:  defaultEventBuffer,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewChannel creates the channel for sessionID. onClose runs exactly once,
// after the channel has closed, whoever closed it.
func (f *ChannelFactory) NewChannel(sessionID string, onClose func()) session.Channel {
	return newEchoChannel(f, sessionID, onClose)
}
