package mcp

import (
	"encoding/json"

	"github.com/Sentinel-Gate/echogate/internal/domain/tool"
)

// Method names handled by the echo channel.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	// MethodToolCall is the short form some clients send for tools/call.
	MethodToolCall   = "tool-call"
	MethodSetLevel   = "logging/setLevel"
	MethodLogMessage = "notifications/message"
)

// LatestProtocolVersion is the newest MCP protocol revision the server speaks.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists accepted revisions, newest first.
var SupportedProtocolVersions = []string{
	LatestProtocolVersion,
	"2025-03-26",
	"2024-11-05",
}

// NegotiateProtocolVersion returns requested when supported, otherwise the latest revision.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}

// Implementation names a client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the params object of an initialize request.
type InitializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      Implementation  `json:"clientInfo"`
}

// ToolsCapability advertises tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// LoggingCapability advertises notifications/message support.
type LoggingCapability struct{}

// ServerCapabilities is the capability set returned from initialize.
type ServerCapabilities struct {
	Tools   *ToolsCapability   `json:"tools,omitempty"`
	Logging *LoggingCapability `json:"logging,omitempty"`
}

// InitializeResult is the result of an initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []tool.Tool `json:"tools"`
}

// CallToolParams is the params object of tools/call.
// Arguments stays raw so malformed input can degrade instead of failing decode.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is a single content block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextContent returns a text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolResult is the result of tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// LoggingLevel is an RFC 5424 severity as used by MCP logging.
type LoggingLevel string

const (
	LevelDebug     LoggingLevel = "debug"
	LevelInfo      LoggingLevel = "info"
	LevelNotice    LoggingLevel = "notice"
	LevelWarning   LoggingLevel = "warning"
	LevelError     LoggingLevel = "error"
	LevelCritical  LoggingLevel = "critical"
	LevelAlert     LoggingLevel = "alert"
	LevelEmergency LoggingLevel = "emergency"
)

var levelSeverity = map[LoggingLevel]int{
	LevelDebug:     0,
	LevelInfo:      1,
	LevelNotice:    2,
	LevelWarning:   3,
	LevelError:     4,
	LevelCritical:  5,
	LevelAlert:     6,
	LevelEmergency: 7,
}

// IsValid returns true if l is a known level.
func (l LoggingLevel) IsValid() bool {
	_, ok := levelSeverity[l]
	return ok
}

// Enables reports whether a message at msg passes a threshold of l.
// An empty or unknown threshold enables nothing.
func (l LoggingLevel) Enables(msg LoggingLevel) bool {
	threshold, ok := levelSeverity[l]
	if !ok {
		return false
	}
	sev, ok := levelSeverity[msg]
	return ok && sev >= threshold
}

// SetLevelParams is the params object of logging/setLevel.
type SetLevelParams struct {
	Level LoggingLevel `json:"level"`
}

// LoggingMessageParams is the params object of notifications/message.
type LoggingMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger,omitempty"`
	Data   any          `json:"data"`
}
