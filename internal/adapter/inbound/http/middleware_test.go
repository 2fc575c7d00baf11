package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	var gotID any
	handler := RequestIDMiddleware(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Context().Value(RequestIDKey)
		if LoggerFromContext(r.Context()) == nil {
			t.Error("no logger in context")
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	header := rec.Header().Get("X-Request-ID")
	if header == "" {
		t.Fatal("X-Request-ID not generated")
	}
	if gotID != header {
		t.Errorf("context request id = %v, want %q", gotID, header)
	}
}

func TestExtractRealIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "10.0.0.1:5555",
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded for takes first entry",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"},
			want:       "203.0.113.7",
		},
		{
			name:       "real ip header",
			remoteAddr: "10.0.0.1:5555",
			headers:    map[string]string{"X-Real-IP": " 198.51.100.4 "},
			want:       "198.51.100.4",
		},
		{
			name:       "unparseable remote addr",
			remoteAddr: "pipe",
			want:       "pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractRealIP(req); got != tt.want {
				t.Errorf("extractRealIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRealIPMiddleware_StoresIP(t *testing.T) {
	var got string
	handler := RealIPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.9:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "192.0.2.9" {
		t.Errorf("client IP = %q, want 192.0.2.9", got)
	}
}

func TestRecoverMiddleware_AfterHeaderWritten(t *testing.T) {
	handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("late failure")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q, want only the partial response", rec.Body.String())
	}
}
