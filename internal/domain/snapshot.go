package domain

// QueueSnapshot is one versioned read of an event's pending queue.
type QueueSnapshot struct {
	EventID  string
	Revision int64
	Version  string
	// Entries holds pending entries ordered by position.
	Entries []QueueEntry
	// TurnCounts maps SingerKey to the number of sung entries in this event.
	TurnCounts map[string]int
}

// QueueIDs returns entry ids in queue order.
func (s QueueSnapshot) QueueIDs() []string {
	out := make([]string, 0, len(s.Entries))
	for _, entry := range s.Entries {
		out = append(out, entry.ID)
	}
	return out
}

// TurnsFor returns the historical turn count for one requestor.
func (s QueueSnapshot) TurnsFor(requestor string) int {
	if s.TurnCounts == nil {
		return 0
	}
	return s.TurnCounts[SingerKey(requestor)]
}
