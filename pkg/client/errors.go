package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrNoSession is returned by session operations before Initialize succeeds.
	ErrNoSession = errors.New("no session")

	// ErrSessionGone is returned when the server no longer knows the session.
	ErrSessionGone = errors.New("session gone")
)

// RPCError is a JSON-RPC error, either from a response or from a
// transport-level rejection envelope.
type RPCError struct {
	// StatusCode is the HTTP status the error arrived with.
	StatusCode int
	// Code is the JSON-RPC error code.
	Code int64
	// Message is the server's error message.
	Message string
}

// Error returns a human-readable description of the error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("echo-gate: rpc error %d: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
}

// HTTPError is returned when the server answers with an unexpected status and
// a body that is not a JSON-RPC envelope.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error returns a human-readable description of the error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("echo-gate: server returned %d: %s", e.StatusCode, e.Body)
}

// ToolError is returned by Echo when the tool result is flagged as an error.
type ToolError struct {
	Tool string
	Text string
}

// Error returns the tool's error text.
func (e *ToolError) Error() string {
	return fmt.Sprintf("echo-gate: tool %s failed: %s", e.Tool, e.Text)
}
