package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the message content.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message
// stamped with the current time.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// NewResult builds a success response for id carrying result marshaled as JSON.
func NewResult(id jsonrpc.ID, result any) (*jsonrpc.Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &jsonrpc.Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id jsonrpc.ID, code int64, message string) *jsonrpc.Response {
	return &jsonrpc.Response{
		ID:    id,
		Error: &jsonrpc.Error{Code: code, Message: message},
	}
}

// NewNotification builds a server-to-client notification.
func NewNotification(method string, params any) (*jsonrpc.Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	return &jsonrpc.Request{Method: method, Params: raw}, nil
}

// ResponseError returns the wire error carried by resp, or nil for a success.
func ResponseError(resp *jsonrpc.Response) *jsonrpc.Error {
	if resp == nil || resp.Error == nil {
		return nil
	}
	var wireErr *jsonrpc.Error
	if errors.As(resp.Error, &wireErr) {
		return wireErr
	}
	return &jsonrpc.Error{Code: ErrCodeInternalError, Message: resp.Error.Error()}
}
