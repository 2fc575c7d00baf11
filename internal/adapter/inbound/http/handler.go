package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"

	"github.com/Sentinel-Gate/echogate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/echogate/internal/domain/session"
	"github.com/Sentinel-Gate/echogate/internal/port/inbound"
	"github.com/Sentinel-Gate/echogate/pkg/mcp"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// MCPSessionIDHeader is the header for session identification.
const MCPSessionIDHeader = "Mcp-Session-Id"

// MCPProtocolVersionHeader is the header for protocol version.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// maxSessionIDAttempts bounds regeneration after an id collision.
const maxSessionIDAttempts = 3

// allowedMethods is sent in the Allow header of 405 responses.
const allowedMethods = "GET, POST, DELETE, OPTIONS"

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaTypes = []contenttype.MediaType{contenttype.NewMediaType("text/event-stream")}
)

// sessionState is the resolved session condition of a request.
type sessionState int

const (
	stateNoSession sessionState = iota
	stateHasSession
)

// Dispatcher serves the MCP endpoint. Each request first resolves to a
// session state, then the (verb, state) pair picks the behavior.
type Dispatcher struct {
	registry     session.Registry
	factory      inbound.ChannelFactory
	limiter      ratelimit.RateLimiter
	limitConfig  ratelimit.RateLimitConfig
	metrics      *Metrics
	sseKeepalive time.Duration
	logger       *slog.Logger
}

// NewDispatcher creates a dispatcher over registry that builds new channels with factory.
func NewDispatcher(registry session.Registry, factory inbound.ChannelFactory, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:     registry,
		factory:      factory,
		sseKeepalive: 30 * time.Second,
		logger:       logger,
	}
}

// resolveSession looks up the session named by the request header.
// An absent header and an unknown id both resolve to stateNoSession.
func (d *Dispatcher) resolveSession(r *http.Request) (sessionState, *session.Session) {
	id := r.Header.Get(MCPSessionIDHeader)
	if id == "" {
		return stateNoSession, nil
	}
	sess, ok := d.registry.Lookup(id)
	if !ok {
		return stateNoSession, nil
	}
	return stateHasSession, sess
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	state, sess := d.resolveSession(r)

	switch {
	case r.Method == http.MethodPost:
		d.handlePost(w, r, state, sess)
	case r.Method == http.MethodGet && state == stateHasSession:
		d.handleGet(w, r, sess)
	case r.Method == http.MethodDelete && state == stateHasSession:
		d.handleDelete(w, r, sess)
	case r.Method == http.MethodGet, r.Method == http.MethodDelete:
		writeBadRequest(w, missingSessionReason(r))
	default:
		w.Header().Set("Allow", allowedMethods)
		writeJSONRPCError(w, http.StatusMethodNotAllowed, nil, mcp.ErrCodeServerError,
			"Method Not Allowed: "+r.Method)
	}
}

// requestLogger returns the request-scoped logger, or the dispatcher's own
// when the request did not pass through RequestIDMiddleware.
func (d *Dispatcher) requestLogger(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return d.logger
}

func missingSessionReason(r *http.Request) string {
	if r.Header.Get(MCPSessionIDHeader) == "" {
		return "Mcp-Session-Id header required"
	}
	return "unknown or expired session"
}

// handlePost validates the body, creates a session when needed, and routes
// the message into the session channel.
func (d *Dispatcher) handlePost(w http.ResponseWriter, r *http.Request, state sessionState, sess *session.Session) {
	logger := d.requestLogger(r)

	msg, ok := readMessage(w, r)
	if !ok {
		return
	}

	if state == stateNoSession {
		if !d.allowSessionCreation(w, r) {
			return
		}
		created, err := d.createSession()
		if err != nil {
			logger.Error("failed to create session", "error", err)
			writeInternalError(w, msg.RawID())
			return
		}
		sess = created
		w.Header().Set(MCPSessionIDHeader, sess.ID)
		logger.Info("session created", "session_id", sess.ID)
	} else {
		d.registry.Touch(sess.ID)
	}

	req := msg.Request()
	resp, err := sess.Channel.Handle(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return // Client disconnected, don't write response
		}
		if errors.Is(err, session.ErrChannelClosed) {
			writeBadRequest(w, "session closed")
			return
		}
		logger.Error("channel failed to handle request",
			"session_id", sess.ID,
			"method", req.Method,
			"error", err)
		writeInternalError(w, msg.RawID())
		return
	}

	if !req.IsCall() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if resp == nil {
		logger.Error("channel returned no response for call",
			"session_id", sess.ID,
			"method", req.Method)
		writeInternalError(w, msg.RawID())
		return
	}

	body, err := mcp.EncodeMessage(resp)
	if err != nil {
		logger.Error("failed to encode response", "session_id", sess.ID, "error", err)
		writeInternalError(w, msg.RawID())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// readMessage applies the POST validation chain. It writes the error
// response itself and returns false when the body is rejected.
func readMessage(w http.ResponseWriter, r *http.Request) (*mcp.Message, bool) {
	// Validate content type (before reading body to fail fast)
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeParseError,
				"Parse error: content type must be application/json")
			return nil, false
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeParseError,
				"Parse error: request body too large (max 1MB)")
			return nil, false
		}
		writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeParseError,
			"Parse error: failed to read request body")
		return nil, false
	}

	if len(body) == 0 {
		writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeParseError,
			"Parse error: empty request body")
		return nil, false
	}
	if !json.Valid(body) {
		writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeParseError,
			"Parse error: invalid JSON")
		return nil, false
	}

	var envelope struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		ID      json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Valid JSON that is not an object: array, string, number, boolean.
		writeJSONRPCError(w, http.StatusBadRequest, nil, mcp.ErrCodeInvalidRequest,
			"Invalid Request: request must be a JSON object")
		return nil, false
	}
	if envelope.JSONRPC != "2.0" {
		writeJSONRPCError(w, http.StatusBadRequest, envelope.ID, mcp.ErrCodeInvalidRequest,
			"Invalid Request: missing or invalid jsonrpc version (must be \"2.0\")")
		return nil, false
	}
	if envelope.Method == "" {
		writeJSONRPCError(w, http.StatusBadRequest, envelope.ID, mcp.ErrCodeInvalidRequest,
			"Invalid Request: missing method field")
		return nil, false
	}

	msg, err := mcp.WrapMessage(body)
	if err != nil || msg.Request() == nil {
		writeJSONRPCError(w, http.StatusBadRequest, envelope.ID, mcp.ErrCodeInvalidRequest,
			"Invalid Request: malformed JSON-RPC request")
		return nil, false
	}
	return msg, true
}

// allowSessionCreation applies the per-IP creation limit, if configured.
// Limiter failures let the request through.
func (d *Dispatcher) allowSessionCreation(w http.ResponseWriter, r *http.Request) bool {
	if d.limiter == nil {
		return true
	}

	ip := ClientIPFromContext(r.Context())
	if ip == "" {
		ip = extractRealIP(r)
	}
	key := ratelimit.FormatKey(ratelimit.KeyTypeIP, ip)

	result, err := d.limiter.Allow(r.Context(), key, d.limitConfig)
	if err != nil {
		d.requestLogger(r).Warn("rate limiter failed, allowing request", "error", err)
		return true
	}
	if result.Allowed {
		return true
	}

	if d.metrics != nil {
		d.metrics.RateLimited.Inc()
	}
	retry := int(result.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeJSONRPCError(w, http.StatusTooManyRequests, nil, mcp.ErrCodeServerError,
		"Too Many Requests: session creation rate limit exceeded")
	return false
}

// createSession builds a channel and registers it under a fresh id. The
// channel's close hook unregisters it, whoever closes it.
func (d *Dispatcher) createSession() (*session.Session, error) {
	for attempt := 0; attempt < maxSessionIDAttempts; attempt++ {
		id, err := session.GenerateSessionID()
		if err != nil {
			return nil, err
		}

		var registered atomic.Bool
		ch := d.factory.NewChannel(id, func() {
			if registered.Load() {
				d.registry.Remove(id)
			}
		})
		sess := session.New(id, ch)

		err = d.registry.Insert(sess)
		if err == nil {
			registered.Store(true)
			if d.metrics != nil {
				d.metrics.SessionsCreated.Inc()
			}
			return sess, nil
		}
		// Unregistered, so closing cannot remove the session that owns this id.
		_ = ch.Close()
		if !errors.Is(err, session.ErrSessionExists) {
			return nil, fmt.Errorf("failed to register session: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to allocate a unique session id after %d attempts", maxSessionIDAttempts)
}

// handleGet opens an SSE stream for server-initiated messages on the session.
// The stream ends on client disconnect, session close, or server shutdown.
func (d *Dispatcher) handleGet(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	logger := d.requestLogger(r).With("session_id", sess.ID)

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONRPCError(w, http.StatusNotAcceptable, nil, mcp.ErrCodeServerError,
				"Not Acceptable: client must accept text/event-stream")
			return
		}
	}

	// SSE requires Flusher support
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeInternalError(w, nil)
		return
	}

	events, cancel := sess.Channel.Subscribe()
	defer cancel()

	d.registry.Touch(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Write initial comment to establish connection
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	logger.Debug("event stream opened")

	var keepalive <-chan time.Time
	if d.sseKeepalive > 0 {
		ticker := time.NewTicker(d.sseKeepalive)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	streamEvents(r.Context(), w, flusher, events, sess.Channel.Done(), keepalive, func() {
		d.registry.Touch(sess.ID)
	})
	logger.Debug("event stream closed")
}

// streamEvents pumps events to w until ctx is done, the session closes or
// events is closed.
func streamEvents(
	ctx context.Context,
	w io.Writer,
	flusher http.Flusher,
	events <-chan []byte,
	done <-chan struct{},
	keepalive <-chan time.Time,
	onKeepalive func(),
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-keepalive:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			onKeepalive()
		case msg, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleDelete closes the session channel and unregisters the session.
func (d *Dispatcher) handleDelete(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.Channel.Close(); err != nil {
		d.requestLogger(r).Warn("failed to close session channel",
			"session_id", sess.ID,
			"error", err)
	}
	d.registry.Remove(sess.ID)
	if d.metrics != nil {
		d.metrics.ObserveSessionClosed("client")
	}

	d.requestLogger(r).Info("session terminated", "session_id", sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Compile-time check that Dispatcher is an http.Handler.
var _ http.Handler = (*Dispatcher)(nil)
