package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hylla/encore/internal/adapters/server/common"
	"github.com/hylla/encore/internal/app"
)

// stubReorderService provides deterministic reorder responses for MCP tool tests.
type stubReorderService struct {
	preview     app.PreviewResult
	applied     app.ApplyResult
	plan        common.Plan
	queue       common.Queue
	err         error
	lastPreview common.PreviewReorderRequest
	lastApply   common.ApplyReorderRequest
	lastPlan    common.PlanRequest
	cancelled   int
}

// PreviewReorder records the request and returns the configured preview.
func (s *stubReorderService) PreviewReorder(_ context.Context, req common.PreviewReorderRequest) (app.PreviewResult, error) {
	s.lastPreview = req
	if s.err != nil {
		return app.PreviewResult{}, s.err
	}
	return s.preview, nil
}

// ApplyReorder records the request and returns the configured apply result.
func (s *stubReorderService) ApplyReorder(_ context.Context, req common.ApplyReorderRequest) (app.ApplyResult, error) {
	s.lastApply = req
	if s.err != nil {
		return app.ApplyResult{}, s.err
	}
	return s.applied, nil
}

// GetPlan records the request and returns the configured plan.
func (s *stubReorderService) GetPlan(_ context.Context, req common.PlanRequest) (common.Plan, error) {
	s.lastPlan = req
	if s.err != nil {
		return common.Plan{}, s.err
	}
	return s.plan, nil
}

// CancelPlan records the request.
func (s *stubReorderService) CancelPlan(_ context.Context, req common.PlanRequest) error {
	s.lastPlan = req
	if s.err != nil {
		return s.err
	}
	s.cancelled++
	return nil
}

// GetQueue returns the configured queue.
func (s *stubReorderService) GetQueue(_ context.Context, _ string) (common.Queue, error) {
	if s.err != nil {
		return common.Queue{}, s.err
	}
	return s.queue, nil
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "encore-test",
				"version": "1.0.0",
			},
		},
	}
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()
	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// toolResultStructured decodes structuredContent as one map for stable assertions.
func toolResultStructured(t *testing.T, result map[string]any) map[string]any {
	t.Helper()
	structured, ok := result["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("structuredContent missing in tool result: %#v", result)
	}
	return structured
}

// startServer serves one MCP handler over the stub service.
func startServer(t *testing.T, svc *stubReorderService) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(Config{}, svc)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

// TestNewHandlerRequiresService verifies construction fails closed without a service.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubReorderService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersReorderTools verifies tool discovery lists every reorder tool.
func TestHandlerRegistersReorderTools(t *testing.T) {
	server := startServer(t, &stubReorderService{})
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{
		"encore.get_queue",
		"encore.preview_reorder",
		"encore.apply_reorder",
		"encore.cancel_reorder",
		"encore.get_plan",
	} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %q: %#v", required, toolNames)
		}
	}
}

// TestHandlerPreviewToolCall verifies preview arguments reach the service.
func TestHandlerPreviewToolCall(t *testing.T) {
	svc := &stubReorderService{preview: app.PreviewResult{PlanID: "plan-1", EventID: "ev-1", IsFeasible: true}}
	server := startServer(t, svc)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "encore.preview_reorder", map[string]any{
		"event_id":      "ev-1",
		"mature_policy": "allow",
		"horizon":       6,
		"movement_cap":  3,
		"actor":         "dj",
	}))
	structured := toolResultStructured(t, callResp.Result)
	if structured["plan_id"] != "plan-1" || structured["is_feasible"] != true {
		t.Fatalf("unexpected structured result %#v", structured)
	}
	got := svc.lastPreview
	if got.EventID != "ev-1" || got.MaturePolicy != "allow" || got.Actor != "dj" {
		t.Fatalf("unexpected preview request %#v", got)
	}
	if got.Horizon == nil || *got.Horizon != 6 || got.MovementCap == nil || *got.MovementCap != 3 {
		t.Fatalf("unexpected optional fields %#v", got)
	}
}

// TestHandlerPreviewRejectsFractionalCap verifies whole-number validation.
func TestHandlerPreviewRejectsFractionalCap(t *testing.T) {
	svc := &stubReorderService{}
	server := startServer(t, svc)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "encore.preview_reorder", map[string]any{
		"event_id":     "ev-1",
		"movement_cap": 1.5,
	}))
	if isError, _ := callResp.Result["isError"].(bool); !isError {
		t.Fatalf("isError = %v, want true", callResp.Result["isError"])
	}
	if svc.lastPreview.EventID != "" {
		t.Fatalf("service should not be called, got %#v", svc.lastPreview)
	}
}

// TestHandlerApplyToolCall verifies apply arguments and required-field checks.
func TestHandlerApplyToolCall(t *testing.T) {
	svc := &stubReorderService{applied: app.ApplyResult{PlanID: "plan-1", AppliedVersion: "4.abc", Replayed: true}}
	server := startServer(t, svc)

	_, missingResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "encore.apply_reorder", map[string]any{
		"event_id": "ev-1",
		"plan_id":  "plan-1",
	}))
	if isError, _ := missingResp.Result["isError"].(bool); !isError {
		t.Fatalf("isError = %v, want true", missingResp.Result["isError"])
	}
	if got := toolResultText(t, missingResp.Result); !strings.Contains(got, "based_on_version") {
		t.Fatalf("unexpected error text %q", got)
	}

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "encore.apply_reorder", map[string]any{
		"event_id":         "ev-1",
		"plan_id":          "plan-1",
		"based_on_version": "3.abc",
		"idempotency_key":  "k1",
	}))
	structured := toolResultStructured(t, callResp.Result)
	if structured["applied_version"] != "4.abc" || structured["replayed"] != true {
		t.Fatalf("unexpected structured result %#v", structured)
	}
	if svc.lastApply.IdempotencyKey != "k1" || svc.lastApply.BasedOnVersion != "3.abc" {
		t.Fatalf("unexpected apply request %#v", svc.lastApply)
	}
}

// TestHandlerMapsToolErrors verifies error prefixes for reorder failures.
func TestHandlerMapsToolErrors(t *testing.T) {
	cases := []struct {
		err    error
		prefix string
	}{
		{err: fmt.Errorf("apply: %w", common.ErrPlanStale), prefix: "plan_stale:"},
		{err: fmt.Errorf("apply: %w", common.ErrPlanNotFound), prefix: "plan_not_found_or_expired:"},
		{err: common.ErrApplyUnavailable, prefix: "apply_failed (retryable):"},
		{err: common.ErrInvalidRequest, prefix: "invalid_request:"},
	}
	for i, tc := range cases {
		server := startServer(t, &stubReorderService{err: tc.err})
		_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(10+i, "encore.get_plan", map[string]any{
			"event_id": "ev-1",
			"plan_id":  "plan-1",
		}))
		if isError, _ := callResp.Result["isError"].(bool); !isError {
			t.Fatalf("isError = %v, want true", callResp.Result["isError"])
		}
		if got := toolResultText(t, callResp.Result); !strings.HasPrefix(got, tc.prefix) {
			t.Fatalf("error text = %q, want prefix %q", got, tc.prefix)
		}
	}
}

// TestHandlerCancelToolCall verifies cancel wiring.
func TestHandlerCancelToolCall(t *testing.T) {
	svc := &stubReorderService{}
	server := startServer(t, svc)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "encore.cancel_reorder", map[string]any{
		"event_id": "ev-1",
		"plan_id":  "plan-1",
		"actor":    "dj",
	}))
	structured := toolResultStructured(t, callResp.Result)
	if structured["cancelled"] != true || svc.cancelled != 1 || svc.lastPlan.Actor != "dj" {
		t.Fatalf("unexpected cancel result %#v, req %#v", structured, svc.lastPlan)
	}
}
