package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hylla/encore/internal/adapters/server/common"
	"github.com/hylla/encore/internal/app"
)

// stubReorderService provides deterministic reorder responses for handler tests.
type stubReorderService struct {
	preview     app.PreviewResult
	applied     app.ApplyResult
	plan        common.Plan
	queue       common.Queue
	err         error
	lastPreview common.PreviewReorderRequest
	lastApply   common.ApplyReorderRequest
	lastPlan    common.PlanRequest
	lastEventID string
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

// GetQueue records the event id and returns the configured queue.
func (s *stubReorderService) GetQueue(_ context.Context, eventID string) (common.Queue, error) {
	s.lastEventID = eventID
	if s.err != nil {
		return common.Queue{}, s.err
	}
	return s.queue, nil
}

// recordingRecorder captures request observations.
type recordingRecorder struct {
	mu   sync.Mutex
	seen []string
}

// RecordHTTPRequest stores one observation as "METHOD route status".
func (r *recordingRecorder) RecordHTTPRequest(method, route, status string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, fmt.Sprintf("%s %s %s", method, route, status))
}

// decodeBody decodes one JSON response body into the requested type.
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return out
}

// TestHandlerPreviewPassesBodyAndPath verifies preview request mapping.
func TestHandlerPreviewPassesBodyAndPath(t *testing.T) {
	svc := &stubReorderService{preview: app.PreviewResult{PlanID: "plan-1", EventID: "ev-1", BasedOnVersion: "3.abc"}}
	handler := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/events/ev-1/reorder/preview", strings.NewReader(`{"based_on_version":"3.abc","mature_policy":"allow","horizon":4,"movement_cap":2,"actor":"dj"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := svc.lastPreview
	if got.EventID != "ev-1" || got.BasedOnVersion != "3.abc" || got.MaturePolicy != "allow" || got.Actor != "dj" {
		t.Fatalf("unexpected preview request %#v", got)
	}
	if got.Horizon == nil || *got.Horizon != 4 || got.MovementCap == nil || *got.MovementCap != 2 {
		t.Fatalf("unexpected optional fields %#v", got)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["plan_id"] != "plan-1" {
		t.Fatalf("unexpected body %#v", body)
	}
}

// TestHandlerPreviewAcceptsEmptyBody verifies preview defaults when no body is sent.
func TestHandlerPreviewAcceptsEmptyBody(t *testing.T) {
	svc := &stubReorderService{}
	handler := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/events/ev-1/reorder/preview", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastPreview.EventID != "ev-1" || svc.lastPreview.Horizon != nil {
		t.Fatalf("unexpected preview request %#v", svc.lastPreview)
	}
}

// TestHandlerApplyUsesIdempotencyHeader verifies header fallback for idempotency keys.
func TestHandlerApplyUsesIdempotencyHeader(t *testing.T) {
	svc := &stubReorderService{applied: app.ApplyResult{PlanID: "plan-1", AppliedVersion: "4.def"}}
	handler := NewHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/events/ev-1/reorder/apply", strings.NewReader(`{"plan_id":"plan-1","based_on_version":"3.abc"}`))
	req.Header.Set("Idempotency-Key", "key-9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.lastApply.EventID != "ev-1" || svc.lastApply.PlanID != "plan-1" || svc.lastApply.IdempotencyKey != "key-9" {
		t.Fatalf("unexpected apply request %#v", svc.lastApply)
	}
	body := decodeBody[app.ApplyResult](t, rec)
	if body.AppliedVersion != "4.def" {
		t.Fatalf("unexpected body %#v", body)
	}
}

// TestHandlerApplyRejectsMalformedBody verifies strict decoding of apply payloads.
func TestHandlerApplyRejectsMalformedBody(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty", body: ``},
		{name: "unknown field", body: `{"plan_id":"p","based_on_version":"v","extra":1}`},
		{name: "trailing content", body: `{"plan_id":"p","based_on_version":"v"}{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubReorderService{}
			handler := NewHandler(svc)
			req := httptest.NewRequest(http.MethodPost, "/events/ev-1/reorder/apply", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
			}
			if svc.lastApply.PlanID != "" {
				t.Fatalf("service should not be called, got %#v", svc.lastApply)
			}
		})
	}
}

// TestHandlerErrorMapping verifies transport error codes for each sentinel.
func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{name: "plan missing", err: fmt.Errorf("apply: %w", common.ErrPlanNotFound), status: http.StatusNotFound, code: "plan_not_found_or_expired"},
		{name: "stale", err: fmt.Errorf("apply: %w", errors.Join(common.ErrPlanStale, app.ErrPlanStale)), status: http.StatusConflict, code: "plan_stale"},
		{name: "invalid", err: common.ErrInvalidRequest, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "apply failed", err: common.ErrApplyUnavailable, status: http.StatusServiceUnavailable, code: "apply_failed", retryable: true},
		{name: "event missing", err: common.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler(&stubReorderService{err: tc.err})
			req := httptest.NewRequest(http.MethodPost, "/events/ev-1/reorder/apply", strings.NewReader(`{"plan_id":"p","based_on_version":"v"}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			env := decodeBody[ErrorEnvelope](t, rec)
			if env.Error.Code != tc.code || env.Error.Retryable != tc.retryable {
				t.Fatalf("unexpected error envelope %#v", env)
			}
		})
	}
}

// TestHandlerPlanRoutes verifies plan lookup, cancel, and queue routes.
func TestHandlerPlanRoutes(t *testing.T) {
	svc := &stubReorderService{
		plan:  common.Plan{PlanID: "plan-1", EventID: "ev-1", MoveCount: 2},
		queue: common.Queue{EventID: "ev-1", Version: "3.abc", Entries: []common.QueueEntry{{QueueID: "q1"}}},
	}
	handler := NewHandler(svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/ev-1/reorder/plans/plan-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get plan status = %d", rec.Code)
	}
	if svc.lastPlan.EventID != "ev-1" || svc.lastPlan.PlanID != "plan-1" {
		t.Fatalf("unexpected plan request %#v", svc.lastPlan)
	}
	if plan := decodeBody[common.Plan](t, rec); plan.MoveCount != 2 {
		t.Fatalf("unexpected plan %#v", plan)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/events/ev-1/reorder/plans/plan-1?actor=dj", nil))
	if rec.Code != http.StatusNoContent || svc.cancelled != 1 || svc.lastPlan.Actor != "dj" {
		t.Fatalf("cancel status = %d, cancelled = %d, req = %#v", rec.Code, svc.cancelled, svc.lastPlan)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/ev-1/queue", nil))
	if rec.Code != http.StatusOK || svc.lastEventID != "ev-1" {
		t.Fatalf("queue status = %d, event = %q", rec.Code, svc.lastEventID)
	}
	if queue := decodeBody[common.Queue](t, rec); queue.Version != "3.abc" || len(queue.Entries) != 1 {
		t.Fatalf("unexpected queue %#v", queue)
	}
}

// TestHandlerUnknownRoutes verifies structured 404 and 405 responses.
func TestHandlerUnknownRoutes(t *testing.T) {
	handler := NewHandler(&stubReorderService{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if env := decodeBody[ErrorEnvelope](t, rec); env.Error.Code != "not_found" {
		t.Fatalf("unexpected envelope %#v", env)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/ev-1/reorder/apply", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

// TestHandlerWithoutService verifies a missing service yields 503.
func TestHandlerWithoutService(t *testing.T) {
	handler := NewHandler(nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/ev-1/queue", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// TestMetricsMiddlewareUsesRoutePattern verifies route labels stay bounded.
func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	recorder := &recordingRecorder{}
	handler := NewHandler(&stubReorderService{err: common.ErrPlanNotFound}, WithRequestRecorder(recorder))

	for _, id := range []string{"plan-1", "plan-2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events/ev-1/reorder/plans/"+id, nil))
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	want := "GET /events/{eventID}/reorder/plans/{planID} 404"
	if len(recorder.seen) != 2 || recorder.seen[0] != want || recorder.seen[1] != want {
		t.Fatalf("unexpected observations %#v", recorder.seen)
	}
}
