// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/encore/internal/app"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrPlanNotFound reports an unknown, foreign, or expired reorder plan.
var ErrPlanNotFound = errors.New("plan not found or expired")

// ErrPlanStale reports a plan whose base version no longer matches the live queue.
var ErrPlanStale = errors.New("plan stale")

// ErrApplyUnavailable reports a retryable persistence failure during apply.
var ErrApplyUnavailable = errors.New("apply failed")

// ErrServiceUnavailable reports a transport built without a backing service.
var ErrServiceUnavailable = errors.New("reorder service unavailable")

// PreviewReorderRequest asks for one rebalance proposal.
type PreviewReorderRequest struct {
	EventID        string `json:"event_id,omitempty"`
	BasedOnVersion string `json:"based_on_version,omitempty"`
	MaturePolicy   string `json:"mature_policy,omitempty"`
	Horizon        *int   `json:"horizon,omitempty"`
	MovementCap    *int   `json:"movement_cap,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

// ApplyReorderRequest commits one previewed plan.
type ApplyReorderRequest struct {
	EventID        string `json:"event_id,omitempty"`
	PlanID         string `json:"plan_id"`
	BasedOnVersion string `json:"based_on_version"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

// PlanRequest addresses one cached plan of one event.
type PlanRequest struct {
	EventID string `json:"event_id,omitempty"`
	PlanID  string `json:"plan_id"`
	Actor   string `json:"actor,omitempty"`
}

// PlanEntry is one serialized plan row.
type PlanEntry struct {
	QueueID       string `json:"queue_id"`
	OriginalIndex int    `json:"original_index"`
	DisplayIndex  int    `json:"display_index"`
	IsLocked      bool   `json:"is_locked"`
}

// Plan is the transport view of a cached reorder plan.
type Plan struct {
	PlanID          string            `json:"plan_id"`
	EventID         string            `json:"event_id"`
	BasedOnVersion  string            `json:"based_on_version"`
	ProposedVersion string            `json:"proposed_version"`
	MaturePolicy    string            `json:"mature_policy"`
	MoveCount       int               `json:"move_count"`
	Items           []PlanEntry       `json:"items"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedBy       string            `json:"created_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}

// QueueEntry is one pending entry in queue order.
type QueueEntry struct {
	QueueID   string `json:"queue_id"`
	Position  int    `json:"position"`
	Requestor string `json:"requestor"`
	SongTitle string `json:"song_title"`
	IsMature  bool   `json:"is_mature"`
}

// Queue is the transport view of a live queue snapshot.
type Queue struct {
	EventID    string         `json:"event_id"`
	Version    string         `json:"version"`
	Entries    []QueueEntry   `json:"entries"`
	TurnCounts map[string]int `json:"turn_counts"`
}

// ReorderService is the reorder surface shared by the REST and MCP adapters.
type ReorderService interface {
	PreviewReorder(context.Context, PreviewReorderRequest) (app.PreviewResult, error)
	ApplyReorder(context.Context, ApplyReorderRequest) (app.ApplyResult, error)
	GetPlan(context.Context, PlanRequest) (Plan, error)
	CancelPlan(context.Context, PlanRequest) error
	GetQueue(context.Context, string) (Queue, error)
}
