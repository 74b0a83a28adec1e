package app

import (
	"context"
	"time"

	"github.com/hylla/encore/internal/domain"
	"github.com/hylla/encore/internal/optimizer"
)

// QueueStore is the live-queue provider. Every mutation bumps the event revision.
type QueueStore interface {
	CreateEvent(context.Context, domain.Event) error
	GetEvent(context.Context, string) (domain.Event, error)
	EnqueueEntry(context.Context, domain.QueueEntry) (domain.QueueEntry, error)
	MarkEntrySung(context.Context, string, string, time.Time) error
	LoadQueue(context.Context, string) (domain.QueueSnapshot, error)
	// ApplyReorder writes positions, the apply record, and the audit atomically and returns the new version.
	// It fails with ErrVersionConflict when the event revision no longer equals ExpectedRevision.
	ApplyReorder(context.Context, ApplyReorderInput) (string, error)
	GetApplyRecord(context.Context, string, string, string) (domain.ApplyRecord, error)
	AppendAudit(context.Context, domain.ReorderAudit) error
	ListAudits(context.Context, string, int) ([]domain.ReorderAudit, error)
}

// PositionWrite sets one pending entry's queue position.
type PositionWrite struct {
	QueueID  string
	Position int
}

// ApplyReorderInput is one atomic reorder commit.
type ApplyReorderInput struct {
	EventID          string
	ExpectedRevision int64
	Positions        []PositionWrite
	// Record is stored with AppliedVersion filled in by the store.
	Record domain.ApplyRecord
	Audit  domain.ReorderAudit
}

// PlanCache stores previewed plans between preview and apply.
type PlanCache interface {
	Set(domain.ReorderPlan, time.Duration) time.Time
	Get(string) (domain.ReorderPlan, bool)
	Remove(string)
}

// Optimizer proposes tail positions.
type Optimizer interface {
	Optimize(context.Context, optimizer.Request) (optimizer.Result, error)
}

// ReorderNotification tells viewers that an event's order changed.
type ReorderNotification struct {
	EventID       string
	Version       string
	MovedQueueIDs []string
	MoveCount     int
}

// Notifier broadcasts applied reorders. It runs after commit, so failures are logged and never undo the apply.
type Notifier interface {
	NotifyReorderApplied(context.Context, ReorderNotification) error
}

// Metrics receives preview and apply outcomes.
type Metrics interface {
	RecordPreview(outcome, strategy string, seconds float64, moveCount int)
	RecordApply(outcome string)
}

// Logger is the structured logger used for reorder decisions.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type nopNotifier struct{}

func (nopNotifier) NotifyReorderApplied(context.Context, ReorderNotification) error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordPreview(string, string, float64, int) {}
func (nopMetrics) RecordApply(string)                         {}
