// Package http provides the Streamable HTTP transport for echo-gate.
//
// The transport serves MCP over a single endpoint, /mcp. A session is
// created by the first POST that carries no known Mcp-Session-Id; the
// generated id is returned once in the response header and must be sent
// on every later request.
//
// # Usage
//
//	transport := http.NewHTTPTransport(registry, factory,
//	    http.WithAddr("127.0.0.1:8080"),
//	    http.WithAllowedOrigins([]string{"http://localhost:3000"}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /mcp     - Send a JSON-RPC message, receive the correlated response
//	GET /mcp      - Open an SSE stream of server events for the session
//	DELETE /mcp   - Close the session
//	OPTIONS /mcp  - CORS preflight / capability probe
//	GET /health   - Liveness and active session count
//	GET /metrics  - Prometheus exposition
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - Record duration and status
//  2. RequestIDMiddleware - Extract/generate X-Request-ID and enrich logger
//  3. RecoverMiddleware - Turn panics into a -32603 envelope
//  4. CORSMiddleware - Origin allow-list, credentials, preflight
//  5. ProtocolVersionMiddleware - MCP-Protocol-Version on every response
//  6. RealIPMiddleware - Client IP for rate limiting
//  7. Dispatcher - Session resolution and per-verb handling
//
// # Server-Sent Events (SSE)
//
// GET requests open an SSE stream bound to the session channel. The stream:
//   - Requires a registered Mcp-Session-Id
//   - Starts with a ": connected" comment and sends ": keepalive" comments
//   - Sends "data: <json>\n\n" formatted events
//   - Ends on client disconnect, session close or server shutdown
package http
