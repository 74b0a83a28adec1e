// Package memory implements the live-queue store in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/hylla/encore/internal/app"
	"github.com/hylla/encore/internal/domain"
)

// eventState holds one event's queue. Its mutex serializes every mutation of that event.
type eventState struct {
	mu           sync.Mutex
	event        domain.Event
	entries      []domain.QueueEntry
	nextPosition int
	records      map[string]domain.ApplyRecord
	audits       []domain.ReorderAudit
}

// Store is a concurrency-safe in-memory app.QueueStore. Events are independent and never block each other.
type Store struct {
	events *xsync.Map[string, *eventState]
}

var _ app.QueueStore = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{events: xsync.NewMap[string, *eventState]()}
}

func (s *Store) state(eventID string) (*eventState, error) {
	st, ok := s.events.Load(eventID)
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, app.ErrNotFound)
	}
	return st, nil
}

// CreateEvent creates event.
func (s *Store) CreateEvent(_ context.Context, event domain.Event) error {
	_, loaded := s.events.LoadOrStore(event.ID, &eventState{event: event, records: map[string]domain.ApplyRecord{}})
	if loaded {
		return fmt.Errorf("event %s already exists", event.ID)
	}
	return nil
}

// GetEvent returns event.
func (s *Store) GetEvent(_ context.Context, id string) (domain.Event, error) {
	st, err := s.state(id)
	if err != nil {
		return domain.Event{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.event, nil
}

// EnqueueEntry places entry after every existing entry of its event.
func (s *Store) EnqueueEntry(_ context.Context, entry domain.QueueEntry) (domain.QueueEntry, error) {
	st, err := s.state(entry.EventID)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	entry.Position = st.nextPosition
	st.nextPosition++
	st.entries = append(st.entries, entry)
	st.bump(entry.UpdatedAt)
	return entry, nil
}

// MarkEntrySung marks one pending entry sung.
func (s *Store) MarkEntrySung(_ context.Context, eventID, entryID string, at time.Time) error {
	st, err := s.state(eventID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	idx := slices.IndexFunc(st.entries, func(e domain.QueueEntry) bool { return e.ID == entryID })
	if idx < 0 || st.entries[idx].Status != domain.EntryStatusPending {
		return fmt.Errorf("pending entry %s: %w", entryID, app.ErrNotFound)
	}
	st.entries[idx].MarkSung(at)
	st.bump(at)
	return nil
}

// LoadQueue returns the pending queue in position order.
func (s *Store) LoadQueue(_ context.Context, eventID string) (domain.QueueSnapshot, error) {
	st, err := s.state(eventID)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), nil
}

// ApplyReorder commits positions, the apply record, and the audit under the event lock.
func (s *Store) ApplyReorder(_ context.Context, in app.ApplyReorderInput) (string, error) {
	st, err := s.state(in.EventID)
	if err != nil {
		return "", err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.event.Revision != in.ExpectedRevision {
		return "", fmt.Errorf("event %s at revision %d, expected %d: %w", in.EventID, st.event.Revision, in.ExpectedRevision, app.ErrVersionConflict)
	}
	if !in.Audit.Action.Valid() {
		return "", domain.ErrInvalidAuditAction
	}

	index := make(map[string]int, len(st.entries))
	for i, entry := range st.entries {
		if entry.Status == domain.EntryStatusPending {
			index[entry.ID] = i
		}
	}
	for _, write := range in.Positions {
		if _, ok := index[write.QueueID]; !ok {
			return "", fmt.Errorf("pending entry %s: %w", write.QueueID, app.ErrNotFound)
		}
	}
	// Nothing below can fail.
	at := in.Record.AppliedAt
	for _, write := range in.Positions {
		entry := &st.entries[index[write.QueueID]]
		entry.Position = write.Position
		entry.UpdatedAt = at
	}
	st.nextPosition = max(st.nextPosition, maxPosition(st.entries)+1)
	st.bump(at)

	snap := st.snapshot()
	if in.Record.IdempotencyKey != "" {
		record := in.Record
		record.AppliedVersion = snap.Version
		record.MovedQueueIDs = slices.Clone(in.Record.MovedQueueIDs)
		st.records[recordKey(record.PlanID, record.IdempotencyKey)] = record
	}
	st.audits = append(st.audits, in.Audit)
	return snap.Version, nil
}

// GetApplyRecord returns a stored apply record.
func (s *Store) GetApplyRecord(_ context.Context, eventID, planID, key string) (domain.ApplyRecord, error) {
	st, err := s.state(eventID)
	if err != nil {
		return domain.ApplyRecord{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	record, ok := st.records[recordKey(planID, key)]
	if !ok {
		return domain.ApplyRecord{}, app.ErrNotFound
	}
	record.MovedQueueIDs = slices.Clone(record.MovedQueueIDs)
	return record, nil
}

// AppendAudit appends one audit record.
func (s *Store) AppendAudit(_ context.Context, audit domain.ReorderAudit) error {
	if !audit.Action.Valid() {
		return domain.ErrInvalidAuditAction
	}
	st, err := s.state(audit.EventID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.audits = append(st.audits, audit)
	return nil
}

// ListAudits returns up to limit audits, newest first.
func (s *Store) ListAudits(_ context.Context, eventID string, limit int) ([]domain.ReorderAudit, error) {
	st, err := s.state(eventID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]domain.ReorderAudit, 0, min(limit, len(st.audits)))
	for i := len(st.audits) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, st.audits[i])
	}
	return out, nil
}

func (st *eventState) bump(at time.Time) {
	st.event.Revision++
	if !at.IsZero() {
		st.event.UpdatedAt = at.UTC()
	}
}

func (st *eventState) snapshot() domain.QueueSnapshot {
	snap := domain.QueueSnapshot{
		EventID:    st.event.ID,
		Revision:   st.event.Revision,
		TurnCounts: map[string]int{},
	}
	for _, entry := range st.entries {
		switch entry.Status {
		case domain.EntryStatusPending:
			snap.Entries = append(snap.Entries, entry)
		case domain.EntryStatusSung:
			snap.TurnCounts[entry.SingerKey()]++
		}
	}
	sort.SliceStable(snap.Entries, func(i, j int) bool { return snap.Entries[i].Position < snap.Entries[j].Position })
	snap.Version = domain.QueueVersion(snap.Revision, snap.QueueIDs())
	return snap
}

func maxPosition(entries []domain.QueueEntry) int {
	out := -1
	for _, entry := range entries {
		out = max(out, entry.Position)
	}
	return out
}

func recordKey(planID, key string) string {
	return planID + "\x1f" + key
}
