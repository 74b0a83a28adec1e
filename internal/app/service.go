package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/encore/internal/domain"
	"github.com/hylla/encore/internal/optimizer"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	DefaultMaturePolicy domain.MaturePolicy
	PlanTTL             time.Duration
	// DefaultMovementCap applies when a preview names no cap; nil means uncapped.
	DefaultMovementCap *int
	// ConfirmThreshold is the move count above which a preview asks for confirmation.
	ConfirmThreshold int
	FrozenHeadCount  int
	// Horizon limits how many tail entries are optimized; 0 means all.
	Horizon       int
	AuditPreviews bool
	Solver        SolverConfig
}

// SolverConfig carries optimizer settings applied to every preview.
type SolverConfig struct {
	TimeBudget time.Duration
	Workers    int
	// Seed makes previews reproducible; nil lets each preview pick a random seed.
	Seed    *uint64
	Weights optimizer.Weights
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service coordinates queue edits and the preview/apply reorder lifecycle.
type Service struct {
	store    QueueStore
	plans    PlanCache
	solver   Optimizer
	idGen    IDGenerator
	clock    Clock
	cfg      ServiceConfig
	notifier Notifier
	metrics  Metrics
	logger   Logger
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithNotifier sets the broadcast collaborator informed after each apply.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the metrics collaborator.
func WithMetrics(m Metrics) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService constructs a new value for this package.
func NewService(store QueueStore, plans PlanCache, solver Optimizer, idGen IDGenerator, clock Clock, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if solver == nil {
		solver = optimizer.New()
	}
	if cfg.DefaultMaturePolicy == "" {
		cfg.DefaultMaturePolicy = domain.MaturePolicyDefer
	}
	if cfg.FrozenHeadCount < 0 {
		cfg.FrozenHeadCount = 0
	}
	if cfg.Horizon < 0 {
		cfg.Horizon = 0
	}
	s := &Service{
		store:    store,
		plans:    plans,
		solver:   solver,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		notifier: nopNotifier{},
		metrics:  nopMetrics{},
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateEvent creates event.
func (s *Service) CreateEvent(ctx context.Context, name string) (domain.Event, error) {
	event, err := domain.NewEvent(s.idGen(), name, s.clock())
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.store.CreateEvent(ctx, event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// GetEvent returns event.
func (s *Service) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	return s.store.GetEvent(ctx, strings.TrimSpace(eventID))
}

// EnqueueInput holds input values for enqueue operations.
type EnqueueInput struct {
	EventID   string
	Requestor string
	SongTitle string
	IsMature  bool
}

// Enqueue appends a song request to the end of the event queue.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (domain.QueueEntry, error) {
	entry, err := domain.NewQueueEntry(domain.QueueEntryInput{
		ID:        s.idGen(),
		EventID:   in.EventID,
		Requestor: in.Requestor,
		SongTitle: in.SongTitle,
		IsMature:  in.IsMature,
	}, s.clock())
	if err != nil {
		return domain.QueueEntry{}, err
	}
	return s.store.EnqueueEntry(ctx, entry)
}

// MarkSung records that an entry was performed, which counts as a turn for its singer.
func (s *Service) MarkSung(ctx context.Context, eventID, entryID string) error {
	eventID = strings.TrimSpace(eventID)
	entryID = strings.TrimSpace(entryID)
	if eventID == "" || entryID == "" {
		return domain.ErrInvalidID
	}
	return s.store.MarkEntrySung(ctx, eventID, entryID, s.clock())
}

// GetQueue returns the live pending queue with its version token.
func (s *Service) GetQueue(ctx context.Context, eventID string) (domain.QueueSnapshot, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return domain.QueueSnapshot{}, domain.ErrInvalidID
	}
	return s.store.LoadQueue(ctx, eventID)
}

// ListAudits returns the newest reorder audit records for an event.
func (s *Service) ListAudits(ctx context.Context, eventID string, limit int) ([]domain.ReorderAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListAudits(ctx, strings.TrimSpace(eventID), limit)
}

// appendAudit writes a best-effort audit record outside any apply transaction.
func (s *Service) appendAudit(ctx context.Context, audit domain.ReorderAudit) {
	if err := s.store.AppendAudit(ctx, audit); err != nil {
		s.logger.Warn("reorder audit write failed", "event_id", audit.EventID, "plan_id", audit.PlanID, "action", string(audit.Action), "err", err)
	}
}

func (s *Service) newAudit(eventID, planID string, action domain.AuditAction, actor string, policy domain.MaturePolicy, payload any) domain.ReorderAudit {
	return domain.ReorderAudit{
		AuditID:      s.idGen(),
		EventID:      eventID,
		PlanID:       planID,
		Action:       action,
		UserName:     actor,
		MaturePolicy: policy,
		Payload:      s.encodePayload(eventID, planID, payload),
		CreatedAt:    s.clock().UTC(),
	}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
