// Package mcp provides MCP message types and JSON-RPC codec utilities
// for the echo-gate server.
package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Message wraps a decoded JSON-RPC message received over HTTP.
// It keeps the raw bytes so error envelopes can echo the original id.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message

	// Timestamp records when the message was received.
	Timestamp time.Time
}

// IsRequest returns true if the message is a JSON-RPC request or notification.
func (m *Message) IsRequest() bool {
	return m.Request() != nil
}

// IsNotification returns true for a request without an id.
func (m *Message) IsNotification() bool {
	req := m.Request()
	return req != nil && !req.IsCall()
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// Request returns the underlying Request if this is a request message.
// Returns nil if this is not a request.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// RawID extracts the request ID from the raw message bytes as json.RawMessage.
// The SDK's jsonrpc.ID type doesn't marshal correctly through interface{},
// so error envelopes built outside the codec use the raw form instead.
// Returns nil if no ID is present.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}
	return raw["id"]
}
