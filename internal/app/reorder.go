package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hylla/encore/internal/domain"
	"github.com/hylla/encore/internal/metrics"
	"github.com/hylla/encore/internal/optimizer"
)

// defaultPlanTTL applies when ServiceConfig.PlanTTL is not positive.
const defaultPlanTTL = 5 * time.Minute

// PreviewInput holds input values for preview operations.
type PreviewInput struct {
	EventID string
	// BasedOnVersion is the version the caller last saw; a mismatch marks the preview stale.
	BasedOnVersion string
	MaturePolicy   string
	Horizon        *int
	MovementCap    *int
	Actor          string
}

// PreviewItem is one queue row of a preview, in proposed order.
type PreviewItem struct {
	QueueID       string   `json:"queue_id"`
	Requestor     string   `json:"requestor"`
	SongTitle     string   `json:"song_title"`
	IsMature      bool     `json:"is_mature"`
	IsLocked      bool     `json:"is_locked"`
	IsDeferred    bool     `json:"is_deferred"`
	BeyondHorizon bool     `json:"beyond_horizon"`
	OriginalIndex int      `json:"original_index"`
	DisplayIndex  int      `json:"display_index"`
	Movement      int      `json:"movement"`
	Reasons       []string `json:"reasons"`
}

// PreviewSummary condenses a preview for the operator.
type PreviewSummary struct {
	MoveCount            int             `json:"move_count"`
	FairnessBefore       FairnessMetrics `json:"fairness_before"`
	FairnessAfter        FairnessMetrics `json:"fairness_after"`
	HasAdjacentRepeats   bool            `json:"has_adjacent_repeats"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}

// PreviewResult is returned by Preview. PlanID is empty when the preview is infeasible.
type PreviewResult struct {
	PlanID          string              `json:"plan_id,omitempty"`
	EventID         string              `json:"event_id"`
	BasedOnVersion  string              `json:"based_on_version"`
	ProposedVersion string              `json:"proposed_version,omitempty"`
	ExpiresAt       time.Time           `json:"expires_at"`
	Stale           bool                `json:"stale"`
	IsFeasible      bool                `json:"is_feasible"`
	MaturePolicy    domain.MaturePolicy `json:"mature_policy"`
	Summary         PreviewSummary      `json:"summary"`
	Items           []PreviewItem       `json:"items"`
	Warnings        []optimizer.Warning `json:"warnings"`
	Stats           optimizer.Stats     `json:"-"`
}

// Preview runs the optimizer over the live queue and caches the proposal as a plan.
func (s *Service) Preview(ctx context.Context, in PreviewInput) (PreviewResult, error) {
	started := s.clock()
	eventID := strings.TrimSpace(in.EventID)
	if eventID == "" {
		return PreviewResult{}, invalidf("event id is required")
	}
	policy, err := domain.ParseMaturePolicy(in.MaturePolicy, s.cfg.DefaultMaturePolicy)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	movementCap := s.cfg.DefaultMovementCap
	if in.MovementCap != nil {
		movementCap = in.MovementCap
	}
	if movementCap != nil && *movementCap < 0 {
		return PreviewResult{}, invalidf("movement cap must be >= 0")
	}
	horizon := s.cfg.Horizon
	if in.Horizon != nil {
		if *in.Horizon < 0 {
			return PreviewResult{}, invalidf("horizon must be >= 0")
		}
		horizon = *in.Horizon
	}

	snap, err := s.store.LoadQueue(ctx, eventID)
	if err != nil {
		return PreviewResult{}, err
	}
	basedOn := strings.TrimSpace(in.BasedOnVersion)
	stale := basedOn != "" && basedOn != snap.Version

	parts := partitionQueue(snap, s.cfg.FrozenHeadCount, horizon)
	req := optimizer.Request{
		Entries:         parts.optimizerEntries(snap),
		MaturePolicy:    policy,
		MovementCap:     movementCap,
		TimeBudget:      s.cfg.Solver.TimeBudget,
		Seed:            s.cfg.Solver.Seed,
		Workers:         s.cfg.Solver.Workers,
		FrozenHeadCount: len(parts.head),
		Weights:         s.cfg.Solver.Weights,
	}
	res, err := s.solver.Optimize(ctx, req)
	if err != nil {
		s.metrics.RecordPreview(metrics.OutcomeError, "", s.clock().Sub(started).Seconds(), 0)
		return PreviewResult{}, fmt.Errorf("optimize event %s: %w", eventID, err)
	}

	out := PreviewResult{
		EventID:        eventID,
		BasedOnVersion: snap.Version,
		Stale:          stale,
		IsFeasible:     res.IsFeasible,
		MaturePolicy:   policy,
		Warnings:       res.Warnings,
		Stats:          res.Stats,
	}
	if out.Warnings == nil {
		out.Warnings = []optimizer.Warning{}
	}
	if !res.IsFeasible {
		out.Items = parts.unchangedItems()
		out.Summary.FairnessBefore = fairnessOf(snap.Entries, snap)
		out.Summary.FairnessAfter = out.Summary.FairnessBefore
		out.Summary.HasAdjacentRepeats = out.Summary.FairnessAfter.AdjacentRepeats > 0
		s.metrics.RecordPreview(metrics.OutcomeInfeasible, res.Stats.Strategy, s.clock().Sub(started).Seconds(), 0)
		s.logger.Warn("reorder preview infeasible", "event_id", eventID, "version", snap.Version, "mature_policy", string(policy))
		return out, nil
	}

	items, proposedOrder := parts.merge(res.PlanItems)
	moveCount := 0
	planEntries := make([]domain.PlanEntry, 0, len(items))
	for _, item := range items {
		if item.DisplayIndex != item.OriginalIndex {
			moveCount++
		}
		planEntries = append(planEntries, domain.PlanEntry{
			QueueID:       item.QueueID,
			OriginalIndex: item.OriginalIndex,
			DisplayIndex:  item.DisplayIndex,
			IsLocked:      item.IsLocked,
		})
	}

	now := s.clock().UTC()
	ttl := s.cfg.PlanTTL
	if ttl <= 0 {
		ttl = defaultPlanTTL
	}
	plan := domain.ReorderPlan{
		PlanID:          s.idGen(),
		EventID:         eventID,
		BasedOnVersion:  snap.Version,
		ProposedVersion: domain.QueueVersion(snap.Revision+1, entryIDs(proposedOrder)),
		MaturePolicy:    policy,
		MoveCount:       moveCount,
		Items:           planEntries,
		Metadata:        planMetadata(len(parts.head), horizon, movementCap, res.Stats),
		CreatedBy:       strings.TrimSpace(in.Actor),
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if plan.PlanID == "" {
		return PreviewResult{}, fmt.Errorf("preview event %s: empty plan id", eventID)
	}
	out.ExpiresAt = s.plans.Set(plan, ttl)

	out.PlanID = plan.PlanID
	out.ProposedVersion = plan.ProposedVersion
	out.Items = items
	out.Summary = PreviewSummary{
		MoveCount:            moveCount,
		FairnessBefore:       fairnessOf(snap.Entries, snap),
		FairnessAfter:        fairnessOf(proposedOrder, snap),
		RequiresConfirmation: s.cfg.ConfirmThreshold > 0 && moveCount > s.cfg.ConfirmThreshold,
	}
	out.Summary.HasAdjacentRepeats = out.Summary.FairnessAfter.AdjacentRepeats > 0

	if s.cfg.AuditPreviews {
		s.appendAudit(ctx, s.newAudit(eventID, plan.PlanID, domain.AuditActionPreview, plan.CreatedBy, policy, map[string]any{
			"based_on_version": plan.BasedOnVersion,
			"proposed_version": plan.ProposedVersion,
			"move_count":       moveCount,
			"stale":            stale,
			"strategy":         res.Stats.Strategy,
		}))
	}
	s.metrics.RecordPreview(metrics.OutcomeOK, res.Stats.Strategy, s.clock().Sub(started).Seconds(), moveCount)
	s.logger.Info("reorder previewed", "event_id", eventID, "plan_id", plan.PlanID, "based_on", plan.BasedOnVersion, "proposed", plan.ProposedVersion, "moves", moveCount, "stale", stale)
	return out, nil
}

// ApplyInput holds input values for apply operations.
type ApplyInput struct {
	EventID        string
	PlanID         string
	BasedOnVersion string
	IdempotencyKey string
	Actor          string
}

// ApplyResult describes a committed reorder.
type ApplyResult struct {
	EventID        string    `json:"event_id"`
	PlanID         string    `json:"plan_id"`
	AppliedVersion string    `json:"applied_version"`
	MoveCount      int       `json:"move_count"`
	MovedQueueIDs  []string  `json:"moved_queue_ids"`
	AppliedAt      time.Time `json:"applied_at"`
	Replayed       bool      `json:"replayed"`
}

// Apply commits a cached plan when the live queue still matches the version it was built on.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (ApplyResult, error) {
	eventID := strings.TrimSpace(in.EventID)
	planID := strings.TrimSpace(in.PlanID)
	basedOn := strings.TrimSpace(in.BasedOnVersion)
	key := strings.TrimSpace(in.IdempotencyKey)
	actor := strings.TrimSpace(in.Actor)
	if eventID == "" || planID == "" {
		return ApplyResult{}, invalidf("event id and plan id are required")
	}
	if basedOn == "" {
		return ApplyResult{}, invalidf("based_on_version is required")
	}

	if _, err := domain.VersionRevision(basedOn); err != nil {
		return ApplyResult{}, err
	}

	if res, ok, err := s.replay(ctx, eventID, planID, key); err != nil || ok {
		return res, err
	}

	plan, ok := s.plans.Get(planID)
	if !ok || plan.EventID != eventID {
		s.metrics.RecordApply(metrics.OutcomeNotFound)
		return ApplyResult{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	if basedOn != plan.BasedOnVersion {
		return ApplyResult{}, s.rejectStale(ctx, plan, actor, basedOn, "")
	}
	snap, err := s.store.LoadQueue(ctx, eventID)
	if err != nil {
		return ApplyResult{}, err
	}
	if snap.Version != plan.BasedOnVersion {
		// An overlapping call with the same key may have committed this plan already.
		if res, ok, err := s.replay(ctx, eventID, planID, key); err != nil || ok {
			return res, err
		}
		return ApplyResult{}, s.rejectStale(ctx, plan, actor, basedOn, snap.Version)
	}

	now := s.clock().UTC()
	positions := make([]PositionWrite, 0, len(plan.Items))
	for _, item := range plan.Items {
		positions = append(positions, PositionWrite{QueueID: item.QueueID, Position: item.DisplayIndex})
	}
	moves := plan.Moves()
	moved := make([]string, 0, len(moves))
	for _, item := range moves {
		moved = append(moved, item.QueueID)
	}
	record := domain.ApplyRecord{
		EventID:        eventID,
		PlanID:         planID,
		IdempotencyKey: key,
		MoveCount:      plan.MoveCount,
		MovedQueueIDs:  moved,
		AppliedAt:      now,
	}
	audit := s.newAudit(eventID, planID, domain.AuditActionApply, actor, plan.MaturePolicy, map[string]any{
		"based_on_version": plan.BasedOnVersion,
		"proposed_version": plan.ProposedVersion,
		"move_count":       plan.MoveCount,
		"moved_queue_ids":  moved,
		"idempotency_key":  key,
	})

	version, err := s.store.ApplyReorder(ctx, ApplyReorderInput{
		EventID:          eventID,
		ExpectedRevision: snap.Revision,
		Positions:        positions,
		Record:           record,
		Audit:            audit,
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if res, ok, replayErr := s.replay(ctx, eventID, planID, key); replayErr != nil || ok {
				return res, replayErr
			}
			return ApplyResult{}, s.rejectStale(ctx, plan, actor, basedOn, "")
		}
		s.metrics.RecordApply(metrics.OutcomeFailed)
		s.logger.Error("reorder apply failed", "event_id", eventID, "plan_id", planID, "err", err)
		return ApplyResult{}, fmt.Errorf("%w: %w", ErrApplyFailed, err)
	}
	if version != plan.ProposedVersion {
		s.logger.Warn("applied version differs from preview", "event_id", eventID, "plan_id", planID, "proposed", plan.ProposedVersion, "applied", version)
	}

	s.plans.Remove(planID)
	record.AppliedVersion = version
	if err := s.notifier.NotifyReorderApplied(ctx, ReorderNotification{
		EventID:       eventID,
		Version:       version,
		MovedQueueIDs: moved,
		MoveCount:     plan.MoveCount,
	}); err != nil {
		s.logger.Warn("reorder notification failed", "event_id", eventID, "plan_id", planID, "err", err)
	}
	s.metrics.RecordApply(metrics.OutcomeOK)
	s.logger.Info("reorder applied", "event_id", eventID, "plan_id", planID, "version", version, "moves", plan.MoveCount, "actor", actor)
	return applyResultFromRecord(record, false), nil
}

// replay returns the stored result of an earlier apply with the same idempotency key.
func (s *Service) replay(ctx context.Context, eventID, planID, key string) (ApplyResult, bool, error) {
	if key == "" {
		return ApplyResult{}, false, nil
	}
	record, err := s.store.GetApplyRecord(ctx, eventID, planID, key)
	switch {
	case err == nil:
		s.metrics.RecordApply(metrics.OutcomeReplayed)
		s.logger.Info("reorder apply replayed", "event_id", eventID, "plan_id", planID, "idempotency_key", key, "version", record.AppliedVersion)
		return applyResultFromRecord(record, true), true, nil
	case errors.Is(err, ErrNotFound):
		return ApplyResult{}, false, nil
	default:
		return ApplyResult{}, false, fmt.Errorf("lookup apply record: %w", err)
	}
}

// rejectStale records a reject audit and returns ErrPlanStale. The plan stays cached.
func (s *Service) rejectStale(ctx context.Context, plan domain.ReorderPlan, actor, callerVersion, liveVersion string) error {
	s.appendAudit(ctx, s.newAudit(plan.EventID, plan.PlanID, domain.AuditActionReject, actor, plan.MaturePolicy, map[string]any{
		"reason":           "stale",
		"based_on_version": plan.BasedOnVersion,
		"caller_version":   callerVersion,
		"live_version":     liveVersion,
	}))
	s.metrics.RecordApply(metrics.OutcomeStale)
	s.logger.Warn("reorder apply rejected as stale", "event_id", plan.EventID, "plan_id", plan.PlanID, "based_on", plan.BasedOnVersion, "caller", callerVersion, "live", liveVersion)
	return fmt.Errorf("%w: plan %s was built on %s", ErrPlanStale, plan.PlanID, plan.BasedOnVersion)
}

// Cancel discards a pending plan and records the rejection.
func (s *Service) Cancel(ctx context.Context, eventID, planID, actor string) error {
	plan, err := s.GetPlan(ctx, eventID, planID)
	if err != nil {
		return err
	}
	s.plans.Remove(plan.PlanID)
	s.appendAudit(ctx, s.newAudit(plan.EventID, plan.PlanID, domain.AuditActionReject, strings.TrimSpace(actor), plan.MaturePolicy, map[string]any{
		"reason":           "cancelled",
		"based_on_version": plan.BasedOnVersion,
	}))
	s.logger.Info("reorder plan cancelled", "event_id", plan.EventID, "plan_id", plan.PlanID)
	return nil
}

// GetPlan returns a cached plan that belongs to eventID.
func (s *Service) GetPlan(_ context.Context, eventID, planID string) (domain.ReorderPlan, error) {
	eventID = strings.TrimSpace(eventID)
	planID = strings.TrimSpace(planID)
	if eventID == "" || planID == "" {
		return domain.ReorderPlan{}, invalidf("event id and plan id are required")
	}
	plan, ok := s.plans.Get(planID)
	if !ok || plan.EventID != eventID {
		return domain.ReorderPlan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return plan, nil
}

func applyResultFromRecord(record domain.ApplyRecord, replayed bool) ApplyResult {
	moved := record.MovedQueueIDs
	if moved == nil {
		moved = []string{}
	}
	return ApplyResult{
		EventID:        record.EventID,
		PlanID:         record.PlanID,
		AppliedVersion: record.AppliedVersion,
		MoveCount:      record.MoveCount,
		MovedQueueIDs:  moved,
		AppliedAt:      record.AppliedAt,
		Replayed:       replayed,
	}
}

func planMetadata(frozen, horizon int, movementCap *int, stats optimizer.Stats) map[string]string {
	meta := map[string]string{
		"frozen_head_count": strconv.Itoa(frozen),
		"horizon":           strconv.Itoa(horizon),
		"strategy":          stats.Strategy,
		"seed":              strconv.FormatUint(stats.Seed, 10),
	}
	if movementCap != nil {
		meta["movement_cap"] = strconv.Itoa(*movementCap)
	}
	return meta
}

// encodePayload renders an audit payload as JSON. Unencodable payloads are logged and stored as "{}".
func (s *Service) encodePayload(eventID, planID string, v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("reorder audit payload encode failed", "event_id", eventID, "plan_id", planID, "err", err)
		return "{}"
	}
	return string(raw)
}
