package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/encore/internal/app"
	"github.com/hylla/encore/internal/domain"
	"github.com/hylla/encore/internal/optimizer"
)

// AppServiceAdapter maps transport contracts onto app.Service reorder APIs.
type AppServiceAdapter struct {
	service *app.Service
}

var _ ReorderService = (*AppServiceAdapter)(nil)

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// PreviewReorder runs one preview through the coordinator.
func (a *AppServiceAdapter) PreviewReorder(ctx context.Context, in PreviewReorderRequest) (app.PreviewResult, error) {
	if err := a.ready(); err != nil {
		return app.PreviewResult{}, err
	}
	if strings.TrimSpace(in.EventID) == "" {
		return app.PreviewResult{}, fmt.Errorf("preview reorder: event_id is required: %w", ErrInvalidRequest)
	}
	out, err := a.service.Preview(ctx, app.PreviewInput{
		EventID:        in.EventID,
		BasedOnVersion: in.BasedOnVersion,
		MaturePolicy:   in.MaturePolicy,
		Horizon:        in.Horizon,
		MovementCap:    in.MovementCap,
		Actor:          in.Actor,
	})
	if err != nil {
		return app.PreviewResult{}, mapAppError("preview reorder", err)
	}
	return out, nil
}

// ApplyReorder commits one previewed plan through the coordinator.
func (a *AppServiceAdapter) ApplyReorder(ctx context.Context, in ApplyReorderRequest) (app.ApplyResult, error) {
	if err := a.ready(); err != nil {
		return app.ApplyResult{}, err
	}
	out, err := a.service.Apply(ctx, app.ApplyInput{
		EventID:        in.EventID,
		PlanID:         in.PlanID,
		BasedOnVersion: in.BasedOnVersion,
		IdempotencyKey: in.IdempotencyKey,
		Actor:          in.Actor,
	})
	if err != nil {
		return app.ApplyResult{}, mapAppError("apply reorder", err)
	}
	return out, nil
}

// GetPlan returns one cached plan.
func (a *AppServiceAdapter) GetPlan(ctx context.Context, in PlanRequest) (Plan, error) {
	if err := a.ready(); err != nil {
		return Plan{}, err
	}
	plan, err := a.service.GetPlan(ctx, in.EventID, in.PlanID)
	if err != nil {
		return Plan{}, mapAppError("get plan", err)
	}
	return convertPlan(plan), nil
}

// CancelPlan discards one cached plan.
func (a *AppServiceAdapter) CancelPlan(ctx context.Context, in PlanRequest) error {
	if err := a.ready(); err != nil {
		return err
	}
	return mapAppError("cancel plan", a.service.Cancel(ctx, in.EventID, in.PlanID, in.Actor))
}

// GetQueue returns the live pending queue of one event.
func (a *AppServiceAdapter) GetQueue(ctx context.Context, eventID string) (Queue, error) {
	if err := a.ready(); err != nil {
		return Queue{}, err
	}
	snap, err := a.service.GetQueue(ctx, eventID)
	if err != nil {
		return Queue{}, mapAppError("get queue", err)
	}
	return ConvertQueue(snap), nil
}

// ready reports whether the adapter has a backing service.
func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrServiceUnavailable)
	}
	return nil
}

// convertPlan maps one domain plan into its transport view.
func convertPlan(plan domain.ReorderPlan) Plan {
	items := make([]PlanEntry, 0, len(plan.Items))
	for _, item := range plan.Items {
		items = append(items, PlanEntry{
			QueueID:       item.QueueID,
			OriginalIndex: item.OriginalIndex,
			DisplayIndex:  item.DisplayIndex,
			IsLocked:      item.IsLocked,
		})
	}
	return Plan{
		PlanID:          plan.PlanID,
		EventID:         plan.EventID,
		BasedOnVersion:  plan.BasedOnVersion,
		ProposedVersion: plan.ProposedVersion,
		MaturePolicy:    string(plan.MaturePolicy),
		MoveCount:       plan.MoveCount,
		Items:           items,
		Metadata:        plan.Metadata,
		CreatedBy:       plan.CreatedBy,
		CreatedAt:       plan.CreatedAt,
		ExpiresAt:       plan.ExpiresAt,
	}
}

// ConvertQueue maps one snapshot into its transport view.
func ConvertQueue(snap domain.QueueSnapshot) Queue {
	entries := make([]QueueEntry, 0, len(snap.Entries))
	for i, entry := range snap.Entries {
		entries = append(entries, QueueEntry{
			QueueID:   entry.ID,
			Position:  i,
			Requestor: entry.Requestor,
			SongTitle: entry.SongTitle,
			IsMature:  entry.IsMature,
		})
	}
	turns := make(map[string]int, len(snap.TurnCounts))
	for k, v := range snap.TurnCounts {
		turns[k] = v
	}
	return Queue{
		EventID:    snap.EventID,
		Version:    snap.Version,
		Entries:    entries,
		TurnCounts: turns,
	}
}

// mapAppError maps app-layer failures into transport sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, app.ErrPlanNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrPlanNotFound, err))
	case errors.Is(err, app.ErrPlanStale):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrPlanStale, err))
	case errors.Is(err, app.ErrApplyFailed):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrApplyUnavailable, err))
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, optimizer.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidMaturePolicy),
		errors.Is(err, domain.ErrInvalidVersion):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
