package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hylla/encore/internal/domain"
)

type fakeStore struct {
	mu           sync.Mutex
	events       map[string]domain.Event
	entries      map[string]domain.QueueEntry
	records      map[string]domain.ApplyRecord
	audits       []domain.ReorderAudit
	applyCalls   int
	applyErr     error
	nextPosition int
	// onLoad runs once, on the next LoadQueue, before or after the snapshot is read.
	onLoad      func()
	onLoadAfter bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		events:  map[string]domain.Event{},
		entries: map[string]domain.QueueEntry{},
		records: map[string]domain.ApplyRecord{},
	}
}

func (f *fakeStore) CreateEvent(_ context.Context, e domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.ID] = e
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return domain.Event{}, ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) bump(eventID string) {
	e := f.events[eventID]
	e.Revision++
	f.events[eventID] = e
}

func (f *fakeStore) EnqueueEntry(_ context.Context, entry domain.QueueEntry) (domain.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[entry.EventID]; !ok {
		return domain.QueueEntry{}, ErrNotFound
	}
	entry.Position = f.nextPosition
	f.nextPosition++
	f.entries[entry.ID] = entry
	f.bump(entry.EventID)
	return entry, nil
}

func (f *fakeStore) MarkEntrySung(_ context.Context, eventID, entryID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok || entry.EventID != eventID {
		return ErrNotFound
	}
	entry.MarkSung(at)
	f.entries[entryID] = entry
	f.bump(eventID)
	return nil
}

func (f *fakeStore) LoadQueue(_ context.Context, eventID string) (domain.QueueSnapshot, error) {
	f.mu.Lock()
	hook, after := f.onLoad, f.onLoadAfter
	f.onLoad = nil
	f.mu.Unlock()

	if hook != nil && !after {
		hook()
	}
	f.mu.Lock()
	snap, err := f.snapshotLocked(eventID)
	f.mu.Unlock()
	if hook != nil && after {
		hook()
	}
	return snap, err
}

func (f *fakeStore) snapshotLocked(eventID string) (domain.QueueSnapshot, error) {
	event, ok := f.events[eventID]
	if !ok {
		return domain.QueueSnapshot{}, ErrNotFound
	}
	snap := domain.QueueSnapshot{EventID: eventID, Revision: event.Revision, TurnCounts: map[string]int{}}
	for _, entry := range f.entries {
		if entry.EventID != eventID {
			continue
		}
		switch entry.Status {
		case domain.EntryStatusPending:
			snap.Entries = append(snap.Entries, entry)
		case domain.EntryStatusSung:
			snap.TurnCounts[entry.SingerKey()]++
		}
	}
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Position < snap.Entries[j].Position })
	snap.Version = domain.QueueVersion(snap.Revision, snap.QueueIDs())
	return snap, nil
}

func (f *fakeStore) ApplyReorder(_ context.Context, in ApplyReorderInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return "", f.applyErr
	}
	if f.events[in.EventID].Revision != in.ExpectedRevision {
		return "", ErrVersionConflict
	}
	for _, write := range in.Positions {
		entry, ok := f.entries[write.QueueID]
		if !ok {
			return "", fmt.Errorf("entry %s: %w", write.QueueID, ErrNotFound)
		}
		entry.Position = write.Position
		f.entries[write.QueueID] = entry
	}
	f.bump(in.EventID)
	f.applyCalls++
	snap, err := f.snapshotLocked(in.EventID)
	if err != nil {
		return "", err
	}
	if in.Record.IdempotencyKey != "" {
		record := in.Record
		record.AppliedVersion = snap.Version
		f.records[recordKey(record.EventID, record.PlanID, record.IdempotencyKey)] = record
	}
	f.audits = append(f.audits, in.Audit)
	return snap.Version, nil
}

func recordKey(eventID, planID, key string) string {
	return eventID + "|" + planID + "|" + key
}

func (f *fakeStore) GetApplyRecord(_ context.Context, eventID, planID, key string) (domain.ApplyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[recordKey(eventID, planID, key)]
	if !ok {
		return domain.ApplyRecord{}, ErrNotFound
	}
	return record, nil
}

func (f *fakeStore) AppendAudit(_ context.Context, audit domain.ReorderAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !audit.Action.Valid() {
		return domain.ErrInvalidAuditAction
	}
	f.audits = append(f.audits, audit)
	return nil
}

func (f *fakeStore) ListAudits(_ context.Context, eventID string, limit int) ([]domain.ReorderAudit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ReorderAudit, 0)
	for i := len(f.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if f.audits[i].EventID == eventID {
			out = append(out, f.audits[i])
		}
	}
	return out, nil
}

func (f *fakeStore) auditActions() []domain.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AuditAction, 0, len(f.audits))
	for _, audit := range f.audits {
		out = append(out, audit.Action)
	}
	return out
}

var errDiskFull = errors.New("disk full")

type recordingNotifier struct {
	mu    sync.Mutex
	calls []ReorderNotification
}

func (n *recordingNotifier) NotifyReorderApplied(_ context.Context, note ReorderNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, note)
	return nil
}
