package http

import (
	"encoding/json"
	"net/http"

	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

// jsonRPCError represents a JSON-RPC 2.0 error response.
// ID is kept raw: nil encodes as null, otherwise the request id is echoed verbatim.
type jsonRPCError struct {
	JSONRPC string            `json:"jsonrpc"`
	Error   jsonRPCErrorField `json:"error"`
	ID      json.RawMessage   `json:"id"`
}

type jsonRPCErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeJSONRPCError writes a JSON-RPC error envelope with the given HTTP status.
func writeJSONRPCError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(jsonRPCError{
		JSONRPC: "2.0",
		Error: jsonRPCErrorField{
			Code:    code,
			Message: message,
		},
		ID: id,
	})
}

// writeBadRequest writes the 400 envelope used for session errors.
func writeBadRequest(w http.ResponseWriter, reason string) {
	writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeServerError, "Bad Request: "+reason)
}

// writeInternalError writes the 500 envelope unless the response has already started.
func writeInternalError(w http.ResponseWriter, id json.RawMessage) {
	if headerWritten(w) {
		return
	}
	writeJSONRPCError(w, http.StatusInternalServerError, id, mcp.ErrCodeInternalError, "Internal error")
}
