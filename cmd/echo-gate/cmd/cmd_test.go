package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Sentinel-Gate/echogate/internal/config"
)

func TestCommands_Registered(t *testing.T) {
	want := map[string]bool{"start": false, "stop": false, "config": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartCmd_FlagDefaults(t *testing.T) {
	dev, err := startCmd.Flags().GetBool("dev")
	if err != nil {
		t.Fatalf("failed to get dev flag: %v", err)
	}
	if dev {
		t.Error("dev flag should default to false")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error = %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	if got := readPIDFile(filepath.Join(dir, "missing.pid")); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}

	garbled := filepath.Join(dir, "garbled.pid")
	_ = os.WriteFile(garbled, []byte("not-a-pid\n"), 0o644)
	if got := readPIDFile(garbled); got != 0 {
		t.Errorf("readPIDFile(garbled) = %d, want 0", got)
	}

	negative := filepath.Join(dir, "negative.pid")
	_ = os.WriteFile(negative, []byte("-12\n"), 0o644)
	if got := readPIDFile(negative); got != 0 {
		t.Errorf("readPIDFile(negative) = %d, want 0", got)
	}
}

func TestProcessIsAlive_Self(t *testing.T) {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess() error = %v", err)
	}
	if !processIsAlive(proc) {
		t.Error("processIsAlive(self) = false, want true")
	}
}

func TestNewTracerProvider(t *testing.T) {
	tp, shutdown, err := newTracerProvider(config.TracingConfig{})
	if err != nil {
		t.Fatalf("newTracerProvider(disabled) error = %v", err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); ok {
		t.Error("disabled tracing should not build an SDK provider")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}

	tp, shutdown, err = newTracerProvider(config.TracingConfig{Enabled: true, Output: "stderr"})
	if err != nil {
		t.Fatalf("newTracerProvider(enabled) error = %v", err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Errorf("enabled tracing provider = %T, want *sdktrace.TracerProvider", tp)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestWriteConfigYAML(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()

	var buf bytes.Buffer
	if err := writeConfigYAML(&buf, cfg); err != nil {
		t.Fatalf("writeConfigYAML() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"server:", "http_addr:", "127.0.0.1:8080", "rate_limit:", "session_rate: 60", "tracing:"} {
		if !strings.Contains(out, want) {
			t.Errorf("config YAML missing %q:\n%s", want, out)
		}
	}
}
