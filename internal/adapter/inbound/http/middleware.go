package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/Sentinel-Gate/echogate/internal/ctxkey"
	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// clientIPContextKey is the type for the client IP context key.
type clientIPContextKey struct{}

// ClientIPKey is the context key for the client IP set by RealIPMiddleware.
var ClientIPKey = clientIPContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses shared key type from ctxkey package to allow cross-package access without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
// An enriched logger with request_id field is stored using LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ProtocolVersionMiddleware stamps every response with the MCP protocol version.
func ProtocolVersionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(MCPProtocolVersionHeader, mcp.LatestProtocolVersion)
		next.ServeHTTP(w, r)
	})
}

// corsMethods are the verbs the MCP endpoint serves.
var corsMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodOptions,
	http.MethodDelete,
}

// CORSMiddleware applies the browser access policy. Allowed origins are
// echoed back with credentials; other origins get no CORS headers but the
// request is still served. Preflights are answered here with 200.
//
// rs/cors skips actual requests whose method is not allowed, so those get
// the origin echo here and the 405 stays readable cross-origin.
func CORSMiddleware(allowedOrigins []string, logger *slog.Logger) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: corsMethods,
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"Authorization",
			"Last-Event-ID",
			"X-Request-ID",
			MCPSessionIDHeader,
			MCPProtocolVersionHeader,
		},
		ExposedHeaders:       []string{MCPSessionIDHeader},
		AllowCredentials:     true,
		OptionsSuccessStatus: http.StatusOK,
	}
	if len(allowedOrigins) == 0 {
		// An empty list would mean "any origin" to the cors package.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	if logger != nil {
		opts.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
	}
	c := cors.New(opts)
	return func(next http.Handler) http.Handler {
		handler := c.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && !slices.Contains(corsMethods, r.Method) && c.OriginAllowed(r) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			handler.ServeHTTP(w, r)
		})
	}
}

// RecoverMiddleware turns a panic in the handler chain into a -32603
// envelope, unless the response has already started.
func RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := newStatusRecorder(w)
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				LoggerFromContext(r.Context()).Error("panic serving request",
					"panic", v,
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				writeInternalError(rec, nil)
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

// RealIPMiddleware extracts the client's real IP address for rate limiting.
// It checks X-Forwarded-For and X-Real-IP headers (for reverse proxy support),
// falling back to r.RemoteAddr if no proxy headers are present.
// Only the first IP in X-Forwarded-For is trusted to avoid spoofing.
// The IP is stored in context using ClientIPKey.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), ClientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the IP stored by RealIPMiddleware, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	// Format: X-Forwarded-For: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// nginx-style header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
