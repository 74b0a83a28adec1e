// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hylla/encore/internal/adapters/server/common"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	reorder common.ReorderService
	router  chi.Router
}

// APIError represents one structured API failure response.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Hint      string         `json:"hint,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Option configures a Handler.
type Option func(*handlerOptions)

type handlerOptions struct {
	recorder RequestRecorder
}

// WithRequestRecorder records per-route request metrics.
func WithRequestRecorder(rec RequestRecorder) Option {
	return func(o *handlerOptions) {
		o.recorder = rec
	}
}

// NewHandler constructs one HTTP API adapter over the reorder service.
func NewHandler(reorder common.ReorderService, opts ...Option) *Handler {
	var options handlerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	h := &Handler{reorder: reorder}
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	if options.recorder != nil {
		router.Use(MetricsMiddleware(options.recorder))
	}
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, APIError{
			Code:    "method_not_allowed",
			Message: "method not allowed",
		})
	})
	router.Route("/events/{eventID}", func(r chi.Router) {
		r.Get("/queue", h.handleGetQueue)
		r.Post("/reorder/preview", h.handlePreview)
		r.Post("/reorder/apply", h.handleApply)
		r.Get("/reorder/plans/{planID}", h.handleGetPlan)
		r.Delete("/reorder/plans/{planID}", h.handleCancelPlan)
	})
	h.router = router
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// handleGetQueue serves GET `/events/{eventID}/queue`.
func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	queue, err := h.reorder.GetQueue(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

// handlePreview serves POST `/events/{eventID}/reorder/preview`.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req common.PreviewReorderRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.EventID = chi.URLParam(r, "eventID")
	preview, err := h.reorder.PreviewReorder(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleApply serves POST `/events/{eventID}/reorder/apply`.
func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	var req common.ApplyReorderRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	req.EventID = chi.URLParam(r, "eventID")
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" && strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = key
	}
	applied, err := h.reorder.ApplyReorder(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

// handleGetPlan serves GET `/events/{eventID}/reorder/plans/{planID}`.
func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	plan, err := h.reorder.GetPlan(r.Context(), common.PlanRequest{
		EventID: chi.URLParam(r, "eventID"),
		PlanID:  chi.URLParam(r, "planID"),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// handleCancelPlan serves DELETE `/events/{eventID}/reorder/plans/{planID}`.
func (h *Handler) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	err := h.reorder.CancelPlan(r.Context(), common.PlanRequest{
		EventID: chi.URLParam(r, "eventID"),
		PlanID:  chi.URLParam(r, "planID"),
		Actor:   strings.TrimSpace(r.URL.Query().Get("actor")),
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// available writes a 503 when no reorder service is configured.
func (h *Handler) available(w http.ResponseWriter) bool {
	if h.reorder != nil {
		return true
	}
	writeJSONError(w, http.StatusServiceUnavailable, APIError{
		Code:    "service_unavailable",
		Message: "reorder service is not configured",
	})
	return false
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrPlanNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "plan_not_found_or_expired",
			Message: err.Error(),
			Hint:    "Preview the reorder again to get a fresh plan.",
		})
	case errors.Is(err, common.ErrPlanStale):
		writeJSONError(w, http.StatusConflict, APIError{
			Code:    "plan_stale",
			Message: err.Error(),
			Hint:    "The queue changed after the preview. Re-preview before applying.",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	case errors.Is(err, common.ErrApplyUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:      "apply_failed",
			Message:   err.Error(),
			Retryable: true,
		})
	case errors.Is(err, common.ErrServiceUnavailable):
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
