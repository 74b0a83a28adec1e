// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/encore/internal/adapters/server/common"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the reorder tools.
func NewHandler(cfg Config, reorder common.ReorderService) (*Handler, error) {
	if reorder == nil {
		return nil, fmt.Errorf("reorder service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerReorderTools(mcpSrv, reorder)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "encore"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerReorderTools registers the queue and reorder tools.
func registerReorderTools(srv *mcpserver.MCPServer, reorder common.ReorderService) {
	srv.AddTool(
		mcp.NewTool(
			"encore.get_queue",
			mcp.WithDescription("Return the pending queue of one event with its version token."),
			mcp.WithString("event_id", mcp.Required(), mcp.Description("Event identifier")),
		),
		getQueueTool(reorder),
	)
	srv.AddTool(
		mcp.NewTool(
			"encore.preview_reorder",
			mcp.WithDescription("Propose a fair rotation for the pending queue and cache it as a plan."),
			mcp.WithString("event_id", mcp.Required(), mcp.Description("Event identifier")),
			mcp.WithString("based_on_version", mcp.Description("Queue version the caller last saw")),
			mcp.WithString("mature_policy", mcp.Description("Mature-content policy"), mcp.Enum("defer", "allow")),
			mcp.WithNumber("horizon", mcp.Description("Number of entries after the locked head to reorder (0 = all)")),
			mcp.WithNumber("movement_cap", mcp.Description("Maximum positions any entry may move")),
			mcp.WithString("actor", mcp.Description("Operator requesting the preview")),
		),
		previewReorderTool(reorder),
	)
	srv.AddTool(
		mcp.NewTool(
			"encore.apply_reorder",
			mcp.WithDescription("Commit a previewed plan when the queue still matches its base version."),
			mcp.WithString("event_id", mcp.Required(), mcp.Description("Event identifier")),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier from preview")),
			mcp.WithString("based_on_version", mcp.Required(), mcp.Description("Version the plan was previewed against")),
			mcp.WithString("idempotency_key", mcp.Description("Key that makes retries replay the first result")),
			mcp.WithString("actor", mcp.Description("Operator applying the plan")),
		),
		applyReorderTool(reorder),
	)
	srv.AddTool(
		mcp.NewTool(
			"encore.cancel_reorder",
			mcp.WithDescription("Discard a previewed plan."),
			mcp.WithString("event_id", mcp.Required(), mcp.Description("Event identifier")),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
			mcp.WithString("actor", mcp.Description("Operator cancelling the plan")),
		),
		cancelReorderTool(reorder),
	)
	srv.AddTool(
		mcp.NewTool(
			"encore.get_plan",
			mcp.WithDescription("Return a cached plan while it has not expired."),
			mcp.WithString("event_id", mcp.Required(), mcp.Description("Event identifier")),
			mcp.WithString("plan_id", mcp.Required(), mcp.Description("Plan identifier")),
		),
		getPlanTool(reorder),
	)
}

func getQueueTool(reorder common.ReorderService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventID, err := req.RequireString("event_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		queue, err := reorder.GetQueue(ctx, eventID)
		if err != nil {
			return toolResultFromError(err), nil
		}
		result, err := mcp.NewToolResultJSON(queue)
		if err != nil {
			return nil, fmt.Errorf("encode get_queue result: %w", err)
		}
		return result, nil
	}
}

func previewReorderTool(reorder common.ReorderService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventID, err := req.RequireString("event_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		horizon, err := optionalInt(req, "horizon")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		movementCap, err := optionalInt(req, "movement_cap")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		preview, err := reorder.PreviewReorder(ctx, common.PreviewReorderRequest{
			EventID:        eventID,
			BasedOnVersion: req.GetString("based_on_version", ""),
			MaturePolicy:   req.GetString("mature_policy", ""),
			Horizon:        horizon,
			MovementCap:    movementCap,
			Actor:          req.GetString("actor", ""),
		})
		if err != nil {
			return toolResultFromError(err), nil
		}
		result, err := mcp.NewToolResultJSON(preview)
		if err != nil {
			return nil, fmt.Errorf("encode preview_reorder result: %w", err)
		}
		return result, nil
	}
}

func applyReorderTool(reorder common.ReorderService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		eventID, err := req.RequireString("event_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		planID, err := req.RequireString("plan_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		basedOn, err := req.RequireString("based_on_version")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		applied, err := reorder.ApplyReorder(ctx, common.ApplyReorderRequest{
			EventID:        eventID,
			PlanID:         planID,
			BasedOnVersion: basedOn,
			IdempotencyKey: req.GetString("idempotency_key", ""),
			Actor:          req.GetString("actor", ""),
		})
		if err != nil {
			return toolResultFromError(err), nil
		}
		result, err := mcp.NewToolResultJSON(applied)
		if err != nil {
			return nil, fmt.Errorf("encode apply_reorder result: %w", err)
		}
		return result, nil
	}
}

func cancelReorderTool(reorder common.ReorderService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		planReq, errResult := planRequestFrom(req)
		if errResult != nil {
			return errResult, nil
		}
		planReq.Actor = req.GetString("actor", "")
		if err := reorder.CancelPlan(ctx, planReq); err != nil {
			return toolResultFromError(err), nil
		}
		result, err := mcp.NewToolResultJSON(map[string]any{
			"plan_id":   planReq.PlanID,
			"cancelled": true,
		})
		if err != nil {
			return nil, fmt.Errorf("encode cancel_reorder result: %w", err)
		}
		return result, nil
	}
}

func getPlanTool(reorder common.ReorderService) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		planReq, errResult := planRequestFrom(req)
		if errResult != nil {
			return errResult, nil
		}
		plan, err := reorder.GetPlan(ctx, planReq)
		if err != nil {
			return toolResultFromError(err), nil
		}
		result, err := mcp.NewToolResultJSON(plan)
		if err != nil {
			return nil, fmt.Errorf("encode get_plan result: %w", err)
		}
		return result, nil
	}
}

// planRequestFrom reads the required event_id and plan_id arguments.
func planRequestFrom(req mcp.CallToolRequest) (common.PlanRequest, *mcp.CallToolResult) {
	eventID, err := req.RequireString("event_id")
	if err != nil {
		return common.PlanRequest{}, mcp.NewToolResultError(err.Error())
	}
	planID, err := req.RequireString("plan_id")
	if err != nil {
		return common.PlanRequest{}, mcp.NewToolResultError(err.Error())
	}
	return common.PlanRequest{EventID: eventID, PlanID: planID}, nil
}

// optionalInt reads one optional whole-number argument; absent arguments yield nil.
func optionalInt(req mcp.CallToolRequest, name string) (*int, error) {
	raw, ok := req.GetArguments()[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case int:
		value = float64(v)
	case int64:
		value = float64(v)
	default:
		return nil, fmt.Errorf("%s must be a number", name)
	}
	if value != math.Trunc(value) {
		return nil, fmt.Errorf("%s must be a whole number", name)
	}
	out := int(value)
	return &out, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrPlanNotFound):
		return mcp.NewToolResultError("plan_not_found_or_expired: " + err.Error())
	case errors.Is(err, common.ErrPlanStale):
		return mcp.NewToolResultError("plan_stale: " + err.Error())
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrApplyUnavailable):
		return mcp.NewToolResultError("apply_failed (retryable): " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
