package http

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/echogate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/echogate/internal/service"
)

// newTestTransport creates an HTTPTransport over a fresh registry.
func newTestTransport(t *testing.T, opts ...Option) (*HTTPTransport, *memory.SessionRegistry) {
	t.Helper()
	registry := memory.NewSessionRegistry(discardLogger())
	t.Cleanup(registry.CloseAll)

	factory := service.NewChannelFactory(service.WithLogger(discardLogger()))
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewHTTPTransport(registry, factory, opts...), registry
}

func TestTransport_HealthReportsSessions(t *testing.T) {
	transport, _ := newTestTransport(t)
	srv := httptest.NewServer(transport.Handler())
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(echoCall))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		_ = resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"activeSessions":2`) {
		t.Errorf("body = %s, want activeSessions 2", body)
	}
}

func TestTransport_CommonHeaders(t *testing.T) {
	transport, _ := newTestTransport(t)
	h := transport.Handler()

	for _, tc := range []struct {
		method string
		body   string
	}{
		{http.MethodPost, echoCall},
		{http.MethodPost, "{broken"},
		{http.MethodGet, ""},
		{http.MethodOptions, ""},
	} {
		t.Run(tc.method, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/mcp", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
			if rec.Header().Get(MCPProtocolVersionHeader) == "" {
				t.Error("missing MCP-Protocol-Version")
			}
		})
	}
}

func TestTransport_RequestIDPreserved(t *testing.T) {
	transport, _ := newTestTransport(t)

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestTransport_CORSAllowedOrigin(t *testing.T) {
	transport, _ := newTestTransport(t)
	h := transport.Handler()

	tests := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"success", http.MethodPost, echoCall, http.StatusOK},
		{"parse error", http.MethodPost, "{broken", http.StatusBadRequest},
		{"missing session", http.MethodGet, "", http.StatusBadRequest},
		{"session gone", http.MethodDelete, "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/mcp", strings.NewReader(tt.body))
			req.Header.Set("Origin", "http://localhost:3000")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
				t.Errorf("Access-Control-Allow-Origin = %q", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
				t.Errorf("Access-Control-Allow-Credentials = %q", got)
			}
		})
	}
}

func TestTransport_CORSExposesSessionHeader(t *testing.T) {
	transport, _ := newTestTransport(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(echoCall))
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, MCPSessionIDHeader) {
		t.Errorf("Access-Control-Expose-Headers = %q, want %s", got, MCPSessionIDHeader)
	}
}

func TestTransport_CORSDisallowedOrigin(t *testing.T) {
	transport, registry := newTestTransport(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(echoCall))
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
	// The request itself is still served.
	if rec.Code != http.StatusOK || registry.Count() != 1 {
		t.Errorf("status = %d, sessions = %d; want 200 and 1", rec.Code, registry.Count())
	}
}

func TestTransport_CORSEmptyAllowList(t *testing.T) {
	transport, _ := newTestTransport(t, WithAllowedOrigins(nil))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(echoCall))
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want none", got)
	}
}

func TestTransport_CORSPreflight(t *testing.T) {
	transport, registry := newTestTransport(t)

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
	if registry.Count() != 0 {
		t.Errorf("preflight created %d sessions", registry.Count())
	}
}

func TestTransport_MetricsEndpoint(t *testing.T) {
	transport, _ := newTestTransport(t)
	h := transport.Handler()

	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(echoCall)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`echogate_requests_total{method="POST",status="ok"} 1`,
		`echogate_sessions_created_total 1`,
		`echogate_active_sessions 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestTransport_StartAndShutdown(t *testing.T) {
	// Reserve a free port, then hand it to the transport.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	transport, registry := newTestTransport(t, WithAddr(addr), WithShutdownTimeout(2*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(ctx) }()

	// Wait for the listener.
	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = http.Post("http://"+addr+"/mcp", "application/json", strings.NewReader(echoCall))
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = resp.Body.Close()

	if registry.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", registry.Count())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	if registry.Count() != 0 {
		t.Errorf("Count() after shutdown = %d, want 0", registry.Count())
	}
}

func TestTransport_CloseWithoutStart(t *testing.T) {
	transport, _ := newTestTransport(t)
	if err := transport.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestTransport_CORSOnMethodNotAllowed(t *testing.T) {
	transport, registry := newTestTransport(t)
	h := transport.Handler()

	tests := []struct {
		name     string
		origin   string
		wantACAO string
		wantACAC string
	}{
		{"allowed origin", "http://localhost:3000", "http://localhost:3000", "true"},
		{"disallowed origin", "https://evil.example", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, method := range []string{http.MethodPut, http.MethodPatch} {
				req := httptest.NewRequest(method, "/mcp", strings.NewReader(echoCall))
				req.Header.Set("Origin", tt.origin)
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)

				if rec.Code != http.StatusMethodNotAllowed {
					t.Errorf("%s status = %d, want 405", method, rec.Code)
				}
				if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
					t.Errorf("%s Access-Control-Allow-Origin = %q, want %q", method, got, tt.wantACAO)
				}
				if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantACAC {
					t.Errorf("%s Access-Control-Allow-Credentials = %q, want %q", method, got, tt.wantACAC)
				}
			}
		})
	}
	if registry.Count() != 0 {
		t.Errorf("rejected methods created %d sessions", registry.Count())
	}
}

func TestTransport_OnlyExactMCPPath(t *testing.T) {
	transport, registry := newTestTransport(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp/extra", strings.NewReader(echoCall))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	transport.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get(MCPSessionIDHeader) != "" || registry.Count() != 0 {
		t.Errorf("subpath created a session (count %d)", registry.Count())
	}
}
