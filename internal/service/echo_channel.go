package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/echogate/internal/domain/session"
	"github.com/Sentinel-Gate/echogate/internal/domain/tool"
	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

// EchoChannel serves one MCP session: the initialize handshake, ping,
// tools/list and tools/call for the echo tool, and logging/setLevel.
// Server events are fanned out to every active subscriber.
type EchoChannel struct {
	id      string
	factory *ChannelFactory
	logger  *slog.Logger
	onClose func()

	mu          sync.Mutex
	initialized bool
	logLevel    mcp.LoggingLevel
	subscribers map[int]chan []byte
	nextSub     int
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

func newEchoChannel(f *ChannelFactory, id string, onClose func()) *EchoChannel {
	return &EchoChannel{
		id:          id,
		factory:     f,
		logger:      f.logger.With("session_id", id),
		onClose:     onClose,
		subscribers: make(map[int]chan []byte),
		done:        make(chan struct{}),
	}
}

// Handle dispatches req and returns the response for a call, or nil for a
// notification. A returned error means the request could not be served at all.
func (c *EchoChannel) Handle(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	select {
	case <-c.done:
		return nil, session.ErrChannelClosed
	default:
	}

	ctx, span := c.factory.tracer.Start(ctx, "mcp "+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", req.Method),
			attribute.String("mcp.session.id", c.id),
		),
	)
	defer span.End()

	logger := c.logger
	if ctxLogger := loggerFromContext(ctx); ctxLogger != nil {
		logger = ctxLogger.With("session_id", c.id)
	}

	if !req.IsCall() {
		c.handleNotification(logger, req)
		return nil, nil
	}

	resp, err := c.dispatch(ctx, logger, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if wireErr := mcp.ResponseError(resp); wireErr != nil {
		span.SetAttributes(attribute.Int64("rpc.jsonrpc.error_code", wireErr.Code))
		span.SetStatus(codes.Error, wireErr.Message)
	}
	return resp, nil
}

func (c *EchoChannel) handleNotification(logger *slog.Logger, req *jsonrpc.Request) {
	switch req.Method {
	case mcp.MethodInitialized:
		logger.Debug("client initialized")
	default:
		logger.Debug("ignoring notification", "method", req.Method)
	}
}

func (c *EchoChannel) dispatch(ctx context.Context, logger *slog.Logger, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	switch req.Method {
	case mcp.MethodInitialize:
		return c.initialize(logger, req)
	case mcp.MethodPing:
		return mcp.NewResult(req.ID, struct{}{})
	case mcp.MethodToolsList:
		desc, err := tool.EchoDescriptor()
		if err != nil {
			return nil, fmt.Errorf("failed to build tool descriptor: %w", err)
		}
		return mcp.NewResult(req.ID, mcp.ListToolsResult{Tools: []tool.Tool{desc}})
	case mcp.MethodToolsCall, mcp.MethodToolCall:
		return c.callTool(ctx, logger, req)
	case mcp.MethodSetLevel:
		return c.setLevel(logger, req)
	default:
		return mcp.NewErrorResponse(req.ID, mcp.ErrCodeMethodNotFound,
			"Method not found: "+req.Method), nil
	}
}

func (c *EchoChannel) initialize(logger *slog.Logger, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcp.NewErrorResponse(req.ID, mcp.ErrCodeInvalidParams,
				"Invalid params: "+err.Error()), nil
		}
	}

	c.mu.Lock()
	already := c.initialized
	c.initialized = true
	c.mu.Unlock()

	if already {
		return mcp.NewErrorResponse(req.ID, mcp.ErrCodeInvalidRequest,
			"Invalid Request: Server already initialized"), nil
	}

	version := mcp.NegotiateProtocolVersion(params.ProtocolVersion)
	logger.Info("session initialized",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", version)

	return mcp.NewResult(req.ID, mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools:   &mcp.ToolsCapability{ListChanged: false},
			Logging: &mcp.LoggingCapability{},
		},
		ServerInfo:   c.factory.serverInfo,
		Instructions: c.factory.instructions,
	})
}

func (c *EchoChannel) callTool(ctx context.Context, logger *slog.Logger, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.ErrCodeInvalidParams,
			"Invalid params: tools/call requires an object with a name"), nil
	}

	var result mcp.CallToolResult
	switch params.Name {
	case tool.EchoName:
		text := tool.Echo(params.Arguments)
		result = mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent(text)}}
		logger.Debug("echo tool called", "length", len(text))
		c.notify(logger, mcp.LevelInfo, map[string]any{
			"tool":    tool.EchoName,
			"message": text,
		})
	default:
		result = mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent("Unknown tool: " + params.Name)},
			IsError: true,
		}
		logger.Debug("unknown tool called", "tool", params.Name)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("mcp.tool.name", params.Name),
		attribute.Bool("mcp.tool.is_error", result.IsError),
	)
	if c.factory.observer != nil {
		c.factory.observer(params.Name, result.IsError)
	}
	return mcp.NewResult(req.ID, result)
}

func (c *EchoChannel) setLevel(logger *slog.Logger, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.SetLevelParams
	if err := json.Unmarshal(req.Params, &params); err != nil || !params.Level.IsValid() {
		return mcp.NewErrorResponse(req.ID, mcp.ErrCodeInvalidParams,
			"Invalid params: unknown logging level"), nil
	}

	c.mu.Lock()
	c.logLevel = params.Level
	c.mu.Unlock()

	logger.Debug("logging level set", "level", params.Level)
	return mcp.NewResult(req.ID, struct{}{})
}

// notify publishes a notifications/message event when the client's logging
// level lets level through.
func (c *EchoChannel) notify(logger *slog.Logger, level mcp.LoggingLevel, data any) {
	c.mu.Lock()
	threshold := c.logLevel
	c.mu.Unlock()
	if !threshold.Enables(level) {
		return
	}

	note, err := mcp.NewNotification(mcp.MethodLogMessage, mcp.LoggingMessageParams{
		Level:  level,
		Logger: "echo-gate",
		Data:   data,
	})
	if err != nil {
		logger.Warn("failed to build notification", "error", err)
		return
	}
	event, err := mcp.EncodeMessage(note)
	if err != nil {
		logger.Warn("failed to encode notification", "error", err)
		return
	}
	c.publish(logger, event)
}

func (c *EchoChannel) publish(logger *slog.Logger, event []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for id, sub := range c.subscribers {
		select {
		case sub <- event:
		default:
			logger.Debug("subscriber buffer full, dropping event", "subscriber", id)
		}
	}
}

// Subscribe registers an event stream. The returned channel is closed by
// cancel or when the session closes. Subscribing to a closed session yields
// an already closed channel.
func (c *EchoChannel) Subscribe() (<-chan []byte, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make(chan []byte, c.factory.eventBuffer)
	if c.closed {
		close(events)
		return events, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = events

	return events, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

// Done is closed once the channel has closed.
func (c *EchoChannel) Done() <-chan struct{} {
	return c.done
}

// Close ends every subscription and runs the close hook. Idempotent.
func (c *EchoChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for id, sub := range c.subscribers {
			delete(c.subscribers, id)
			close(sub)
		}
		c.mu.Unlock()

		close(c.done)
		c.logger.Debug("session channel closed")

		if c.onClose != nil {
			c.onClose()
		}
	})
	return nil
}

// Compile-time interface verification.
var _ session.Channel = (*EchoChannel)(nil)
