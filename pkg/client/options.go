package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithEndpoint sets the MCP endpoint URL (e.g. "http://127.0.0.1:8080/mcp").
// If not set, defaults to the ECHO_GATE_ENDPOINT environment variable.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithTimeout sets the timeout of individual requests. Event streams are
// not bound by it. If not set, defaults to 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientInfo sets the name and version sent in initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.info.Name = name
		c.info.Version = version
	}
}

// WithProtocolVersion sets the protocol revision requested in initialize.
func WithProtocolVersion(version string) Option {
	return func(c *Client) {
		c.protocolVersion = version
	}
}

// WithOrigin sets the Origin header, for servers with a CORS allow-list.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = origin
	}
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
