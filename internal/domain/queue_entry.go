package domain

import (
	"strings"
	"time"
)

// EntryStatus describes where a queue entry is in its lifecycle.
type EntryStatus string

// EntryStatus values.
const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusSung    EntryStatus = "sung"
	EntryStatusRemoved EntryStatus = "removed"
)

// QueueEntry represents one song request in an event queue.
type QueueEntry struct {
	ID        string
	EventID   string
	Requestor string
	SongTitle string
	IsMature  bool
	Position  int
	Status    EntryStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	SungAt    *time.Time
}

// QueueEntryInput holds values for NewQueueEntry.
type QueueEntryInput struct {
	ID        string
	EventID   string
	Requestor string
	SongTitle string
	IsMature  bool
	Position  int
}

// NewQueueEntry validates input and returns a pending entry.
func NewQueueEntry(in QueueEntryInput, now time.Time) (QueueEntry, error) {
	in.ID = strings.TrimSpace(in.ID)
	in.EventID = strings.TrimSpace(in.EventID)
	in.Requestor = strings.TrimSpace(in.Requestor)
	in.SongTitle = strings.TrimSpace(in.SongTitle)
	if in.ID == "" || in.EventID == "" {
		return QueueEntry{}, ErrInvalidID
	}
	if in.Requestor == "" {
		return QueueEntry{}, ErrInvalidName
	}
	if in.Position < 0 {
		return QueueEntry{}, ErrInvalidPosition
	}
	return QueueEntry{
		ID:        in.ID,
		EventID:   in.EventID,
		Requestor: in.Requestor,
		SongTitle: in.SongTitle,
		IsMature:  in.IsMature,
		Position:  in.Position,
		Status:    EntryStatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

// MarkSung records that the entry has been performed.
func (e *QueueEntry) MarkSung(now time.Time) {
	ts := now.UTC()
	e.Status = EntryStatusSung
	e.SungAt = &ts
	e.UpdatedAt = ts
}

// SingerKey returns the grouping key for rotation decisions.
func (e QueueEntry) SingerKey() string {
	return SingerKey(e.Requestor)
}

// SingerKey normalizes a requestor display name so "Ana" and " ana " rotate as one singer.
func SingerKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
