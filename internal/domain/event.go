package domain

import (
	"strings"
	"time"
)

// Event represents one karaoke night whose queue is rotated.
type Event struct {
	ID        string
	Name      string
	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewEvent constructs a new event at revision zero.
func NewEvent(id, name string, now time.Time) (Event, error) {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" {
		return Event{}, ErrInvalidID
	}
	if name == "" {
		return Event{}, ErrInvalidName
	}
	return Event{
		ID:        id,
		Name:      name,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}
