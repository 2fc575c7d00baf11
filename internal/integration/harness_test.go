package integration

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/Sentinel-Gate/echogate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/echogate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/echogate/internal/service"
	"github.com/Sentinel-Gate/echogate/pkg/client"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness is a fully wired echo-gate behind an httptest server, assembled
// the way the start command assembles it.
type harness struct {
	server    *httptest.Server
	registry  *memory.SessionRegistry
	metrics   *httpadapter.Metrics
	transport *httpadapter.HTTPTransport
}

type harnessConfig struct {
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	transportOpts   []httpadapter.Option
}

func newHarness(t testing.TB, cfg harnessConfig) *harness {
	t.Helper()
	logger := testLogger()

	registry := memory.NewSessionRegistryWithConfig(cfg.idleTimeout, cfg.cleanupInterval, logger)

	promRegistry := prometheus.NewRegistry()
	metrics := httpadapter.NewMetrics(promRegistry, func() float64 {
		return float64(registry.Count())
	})
	registry.SetEvictionHook(metrics.ObserveSessionClosed)

	factory := service.NewChannelFactory(
		service.WithLogger(logger),
		service.WithServerInfo("echo-gate", "test"),
		service.WithToolCallObserver(metrics.ObserveToolCall),
	)

	opts := append([]httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithMetrics(promRegistry, metrics),
		httpadapter.WithVersion("test"),
	}, cfg.transportOpts...)
	transport := httpadapter.NewHTTPTransport(registry, factory, opts...)

	server := httptest.NewServer(transport.Handler())
	t.Cleanup(func() {
		registry.CloseAll()
		server.Close()
		registry.Stop()
	})

	return &harness{
		server:    server,
		registry:  registry,
		metrics:   metrics,
		transport: transport,
	}
}

func (h *harness) endpoint() string {
	return h.server.URL + "/mcp"
}

func (h *harness) newClient(opts ...client.Option) *client.Client {
	return client.NewClient(append([]client.Option{
		client.WithEndpoint(h.endpoint()),
		client.WithTimeout(5 * time.Second),
		client.WithLogger(testLogger()),
	}, opts...)...)
}
