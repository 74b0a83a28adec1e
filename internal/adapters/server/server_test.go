package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hylla/encore/internal/adapters/server/common"
	"github.com/hylla/encore/internal/adapters/storage/memory"
	"github.com/hylla/encore/internal/app"
	"github.com/hylla/encore/internal/metrics"
	"github.com/hylla/encore/internal/plancache"
)

// newTestDependencies wires an in-memory service with one event and a private metrics registry.
func newTestDependencies(t *testing.T) (Dependencies, string) {
	t.Helper()
	counter := 0
	idGen := func() string {
		counter++
		return fmt.Sprintf("id-%03d", counter)
	}
	reg := prometheus.NewRegistry()
	collector := metrics.NewPrometheus(reg, "encore")
	svc := app.NewService(memory.New(), plancache.New(plancache.WithRecorder(collector)), nil, idGen, time.Now, app.ServiceConfig{}, app.WithMetrics(collector))
	event, err := svc.CreateEvent(context.Background(), "Karaoke")
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	for _, singer := range []string{"Ann", "Ann", "Bob"} {
		if _, err := svc.Enqueue(context.Background(), app.EnqueueInput{EventID: event.ID, Requestor: singer}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	return Dependencies{
		Reorder:  common.NewAppServiceAdapter(svc),
		Requests: collector,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, event.ID
}

// get issues one GET against the handler and returns status and body.
func get(t *testing.T, handler http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return rec.Code, string(body)
}

// TestNewHandlerRoutesEndpoints verifies health, API, and metrics composition.
func TestNewHandlerRoutesEndpoints(t *testing.T) {
	deps, eventID := newTestDependencies(t)
	handler, cfg, err := NewHandler(Config{}, deps)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v1" || cfg.MetricsEndpoint != "/metrics" || cfg.ServerName != "encore" {
		t.Fatalf("unexpected normalized config %#v", cfg)
	}

	if status, body := get(t, handler, "/healthz"); status != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Fatalf("healthz = %d %q", status, body)
	}
	if status, _ := get(t, handler, "/readyz"); status != http.StatusOK {
		t.Fatalf("readyz = %d", status)
	}
	status, body := get(t, handler, "/api/v1/events/"+eventID+"/queue")
	if status != http.StatusOK || !strings.Contains(body, `"version"`) {
		t.Fatalf("queue = %d %q", status, body)
	}
	status, body = get(t, handler, "/metrics")
	if status != http.StatusOK {
		t.Fatalf("metrics = %d", status)
	}
	if !strings.Contains(body, `encore_http_requests_total{method="GET",route="/events/{eventID}/queue",status="200"} 1`) {
		t.Fatalf("metrics body missing request counter:\n%s", body)
	}
}

// TestReadyzReportsProbeFailure verifies readiness follows the storage probe.
func TestReadyzReportsProbeFailure(t *testing.T) {
	deps, _ := newTestDependencies(t)
	deps.Ready = func(context.Context) error { return errors.New("database locked") }
	handler, _, err := NewHandler(Config{}, deps)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	if status, _ := get(t, handler, "/readyz"); status != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d, want 503", status)
	}
	if status, _ := get(t, handler, "/healthz"); status != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", status)
	}
}

// TestNormalizeConfig verifies endpoint defaults and collision checks.
func TestNormalizeConfig(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/", MCPEndpoint: " /tools/mcp/ ", MetricsEndpoint: "/"})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.APIEndpoint != "/api" || cfg.MCPEndpoint != "/tools/mcp" || cfg.MetricsEndpoint != "/metrics" {
		t.Fatalf("unexpected endpoints %#v", cfg)
	}

	for _, bad := range []Config{
		{APIEndpoint: "/x", MCPEndpoint: "/x"},
		{MetricsEndpoint: "/mcp"},
		{APIEndpoint: "/healthz"},
	} {
		if _, err := normalizeConfig(bad); err == nil {
			t.Fatalf("normalizeConfig(%#v) error = nil, want collision error", bad)
		}
	}
}

// TestNewHandlerRequiresReorder verifies composition fails without the reorder service.
func TestNewHandlerRequiresReorder(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}

// TestRunStopsOnCancel verifies graceful shutdown when the context ends.
func TestRunStopsOnCancel(t *testing.T) {
	deps, _ := newTestDependencies(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{HTTPBind: "127.0.0.1:0"}, deps)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
