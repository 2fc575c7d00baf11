// Package tool contains the echo tool contract and its MCP descriptor.
package tool

import (
	"encoding/json"
)

// Tool describes a tool as listed by tools/list.
type Tool struct {
	// Name is the unique identifier for this tool (required).
	Name string `json:"name"`

	// Title is an optional human-readable display name.
	Title string `json:"title,omitempty"`

	// Description is an optional human-readable description.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's parameters (required).
	InputSchema json.RawMessage `json:"inputSchema"`
}
