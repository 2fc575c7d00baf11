// Package client is a Go client for echo-gate's Streamable HTTP endpoint.
//
// A Client holds at most one session. Initialize opens it, Close ends it:
//
//	c := client.NewClient(client.WithEndpoint("http://127.0.0.1:8080/mcp"))
//	if _, err := c.Initialize(ctx); err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
//	text, err := c.Echo(ctx, "hello")
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

const (
	// DefaultEndpoint is used when neither WithEndpoint nor ECHO_GATE_ENDPOINT is set.
	DefaultEndpoint = "http://127.0.0.1:8080/mcp"

	// EchoTool is the name of the server's echo tool.
	EchoTool = "echo"

	sessionIDHeader       = "Mcp-Session-Id"
	protocolVersionHeader = "MCP-Protocol-Version"
	maxErrorBody          = 4096
)

// Client talks to one echo-gate endpoint. It is safe for concurrent use.
type Client struct {
	endpoint        string
	timeout         time.Duration
	httpClient      *http.Client
	info            mcp.Implementation
	protocolVersion string
	origin          string
	logger          *slog.Logger

	nextID atomic.Int64

	mu         sync.RWMutex
	sessionID  string
	negotiated string
}

// NewClient creates a client. The endpoint defaults to ECHO_GATE_ENDPOINT,
// then DefaultEndpoint.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint:        envOrDefault("ECHO_GATE_ENDPOINT", DefaultEndpoint),
		timeout:         10 * time.Second,
		info:            mcp.Implementation{Name: "echo-gate-client", Version: "dev"},
		protocolVersion: mcp.LatestProtocolVersion,
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	// No client-wide timeout: it would cut event streams short.
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	return c
}

// SessionID returns the current session id, empty before Initialize.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Initialize performs the initialize handshake, which makes the server
// create a session, then sends notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	raw, err := c.call(ctx, mcp.MethodInitialize, mcp.InitializeParams{
		ProtocolVersion: c.protocolVersion,
		ClientInfo:      c.info,
	})
	if err != nil {
		return nil, err
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode initialize result: %w", err)
	}

	c.mu.Lock()
	c.negotiated = result.ProtocolVersion
	c.mu.Unlock()

	if err := c.notify(ctx, mcp.MethodInitialized, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks the session is served.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, mcp.MethodPing, nil)
	return err
}

// ListTools returns the server's tool descriptors.
func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	raw, err := c.call(ctx, mcp.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return &result, nil
}

// CallTool invokes a tool by name. A result flagged isError is returned as
// is; only transport and protocol failures are errors.
func (c *Client) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	params := struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments,omitempty"`
	}{Name: name, Arguments: args}

	raw, err := c.call(ctx, mcp.MethodToolsCall, params)
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/call result: %w", err)
	}
	return &result, nil
}

// Echo calls the echo tool and returns its text.
func (c *Client) Echo(ctx context.Context, message string) (string, error) {
	result, err := c.CallTool(ctx, EchoTool, map[string]string{"message": message})
	if err != nil {
		return "", err
	}
	text := joinText(result.Content)
	if result.IsError {
		return "", &ToolError{Tool: EchoTool, Text: text}
	}
	return text, nil
}

// SetLogLevel sets the minimum level of notifications/message events the
// server publishes to this session's event streams.
func (c *Client) SetLogLevel(ctx context.Context, level mcp.LoggingLevel) error {
	_, err := c.call(ctx, mcp.MethodSetLevel, mcp.SetLevelParams{Level: level})
	return err
}

// Close ends the session on the server. The client can Initialize again
// afterwards.
func (c *Client) Close(ctx context.Context) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
	c.mu.Unlock()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", ErrSessionGone, statusError(resp))
	default:
		return statusError(resp)
	}
}

// call sends a request and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id, err := jsonrpc.MakeID(float64(c.nextID.Add(1)))
	if err != nil {
		return nil, err
	}
	req, err := newRPCRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	status, body, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, envelopeError(status, body)
	}

	msg, err := mcp.DecodeMessage(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("unexpected %T in reply to %s", msg, method)
	}
	if wireErr := mcp.ResponseError(resp); wireErr != nil {
		return nil, &RPCError{StatusCode: status, Code: wireErr.Code, Message: wireErr.Message}
	}
	return resp.Result, nil
}

// notify sends a notification, which the server acknowledges with 202.
func (c *Client) notify(ctx context.Context, method string, params any) error {
	req, err := newRPCRequest(jsonrpc.ID{}, method, params)
	if err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	status, body, err := c.post(ctx, req)
	if err != nil {
		return err
	}
	if status != http.StatusAccepted {
		return envelopeError(status, body)
	}
	return nil
}

// post sends msg and returns the status and body. It adopts the session id
// the server answers with.
func (c *Client) post(ctx context.Context, msg *jsonrpc.Request) (int, []byte, error) {
	payload, err := mcp.EncodeMessage(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode %s: %w", msg.Method, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send %s: %w", msg.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %s response: %w", msg.Method, err)
	}

	if id := resp.Header.Get(sessionIDHeader); id != "" {
		c.mu.Lock()
		if c.sessionID != "" && c.sessionID != id {
			c.logger.Debug("server assigned a new session", "previous", c.sessionID, "session_id", id)
		}
		c.sessionID = id
		c.mu.Unlock()
	}
	return resp.StatusCode, body, nil
}

func (c *Client) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.RLock()
	sessionID, version := c.sessionID, c.negotiated
	c.mu.RUnlock()

	if sessionID != "" {
		req.Header.Set(sessionIDHeader, sessionID)
	}
	if version != "" {
		req.Header.Set(protocolVersionHeader, version)
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	return req, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func newRPCRequest(id jsonrpc.ID, method string, params any) (*jsonrpc.Request, error) {
	req := &jsonrpc.Request{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	return req, nil
}

// envelopeError turns a non-success reply into an *RPCError when the body
// is a JSON-RPC error envelope, and an *HTTPError otherwise.
func envelopeError(status int, body []byte) error {
	var envelope struct {
		Error *struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return &RPCError{StatusCode: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPError{StatusCode: status, Body: strings.TrimSpace(string(body))}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return envelopeError(resp.StatusCode, body)
}

func joinText(content []mcp.Content) string {
	var b strings.Builder
	for _, block := range content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// IsSessionGone reports whether err means the server dropped the session.
func IsSessionGone(err error) bool {
	return errors.Is(err, ErrSessionGone)
}
