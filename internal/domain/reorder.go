package domain

import (
	"strings"
	"time"
)

// MaturePolicy controls how mature-flagged entries are ordered.
type MaturePolicy string

// MaturePolicy values.
const (
	MaturePolicyDefer MaturePolicy = "defer"
	MaturePolicyAllow MaturePolicy = "allow"
)

// ParseMaturePolicy normalizes a policy string; empty input yields the fallback.
func ParseMaturePolicy(raw string, fallback MaturePolicy) (MaturePolicy, error) {
	switch MaturePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return fallback, nil
	case MaturePolicyDefer:
		return MaturePolicyDefer, nil
	case MaturePolicyAllow:
		return MaturePolicyAllow, nil
	default:
		return "", ErrInvalidMaturePolicy
	}
}

// PlanEntry is one row of a cached plan: where a queue entry lands if the plan is applied.
type PlanEntry struct {
	QueueID       string `json:"queue_id"`
	OriginalIndex int    `json:"original_index"`
	DisplayIndex  int    `json:"display_index"`
	IsLocked      bool   `json:"is_locked"`
}

// ReorderPlan is a proposed ordering held in the plan cache between preview and apply.
type ReorderPlan struct {
	PlanID          string
	EventID         string
	BasedOnVersion  string
	ProposedVersion string
	MaturePolicy    MaturePolicy
	MoveCount       int
	Items           []PlanEntry
	Metadata        map[string]string
	CreatedBy       string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Clone returns a deep copy so cached plans are never shared mutably.
func (p ReorderPlan) Clone() ReorderPlan {
	out := p
	out.Items = append([]PlanEntry(nil), p.Items...)
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Moves returns the plan rows whose display index differs from the original one.
func (p ReorderPlan) Moves() []PlanEntry {
	out := make([]PlanEntry, 0, p.MoveCount)
	for _, item := range p.Items {
		if item.DisplayIndex != item.OriginalIndex {
			out = append(out, item)
		}
	}
	return out
}

// AuditAction describes a reorder audit entry.
type AuditAction string

// AuditAction values.
const (
	AuditActionPreview AuditAction = "preview"
	AuditActionApply   AuditAction = "apply"
	AuditActionReject  AuditAction = "reject"
)

// Valid reports whether the action is known.
func (a AuditAction) Valid() bool {
	switch a {
	case AuditActionPreview, AuditActionApply, AuditActionReject:
		return true
	default:
		return false
	}
}

// ReorderAudit is one append-only record of a reorder decision.
type ReorderAudit struct {
	AuditID      string
	EventID      string
	PlanID       string
	Action       AuditAction
	UserName     string
	MaturePolicy MaturePolicy
	Payload      string
	CreatedAt    time.Time
}

// ApplyRecord remembers a committed apply so retries with the same key replay its result.
type ApplyRecord struct {
	EventID        string
	PlanID         string
	IdempotencyKey string
	AppliedVersion string
	MoveCount      int
	MovedQueueIDs  []string
	AppliedAt      time.Time
}
