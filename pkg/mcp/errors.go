package mcp

// JSON-RPC 2.0 standard error codes.
// https://www.jsonrpc.org/specification#error_object
const (
	// ErrCodeParseError indicates invalid JSON was received.
	ErrCodeParseError = -32700

	// ErrCodeInvalidRequest indicates the JSON is not a valid Request object.
	ErrCodeInvalidRequest = -32600

	// ErrCodeMethodNotFound indicates the method does not exist or is not available.
	ErrCodeMethodNotFound = -32601

	// ErrCodeInvalidParams indicates invalid method parameters.
	ErrCodeInvalidParams = -32602

	// ErrCodeInternalError indicates an internal JSON-RPC error.
	ErrCodeInternalError = -32603

	// ErrCodeServerError is the implementation-defined code used for
	// transport-level rejections (unknown session, rate limited).
	ErrCodeServerError = -32000
)
