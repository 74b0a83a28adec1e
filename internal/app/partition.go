package app

import (
	"github.com/hylla/encore/internal/domain"
	"github.com/hylla/encore/internal/optimizer"
)

// queueParts splits a pending queue into the locked head, the optimized tail, and entries beyond the horizon.
type queueParts struct {
	head []domain.QueueEntry
	tail []domain.QueueEntry
	rest []domain.QueueEntry
}

func partitionQueue(snap domain.QueueSnapshot, frozen, horizon int) queueParts {
	entries := snap.Entries
	frozen = min(max(frozen, 0), len(entries))
	parts := queueParts{head: entries[:frozen], tail: entries[frozen:]}
	if horizon > 0 && horizon < len(parts.tail) {
		parts.rest = parts.tail[horizon:]
		parts.tail = parts.tail[:horizon]
	}
	return parts
}

// optimizerEntries builds optimizer input for the tail, anchoring singers to their last frozen-head slot.
func (p queueParts) optimizerEntries(snap domain.QueueSnapshot) []optimizer.Entry {
	lastHeadSlot := make(map[string]int, len(p.head))
	for i, entry := range p.head {
		lastHeadSlot[entry.SingerKey()] = i
	}
	out := make([]optimizer.Entry, 0, len(p.tail))
	for i, entry := range p.tail {
		in := optimizer.Entry{
			QueueID:               entry.ID,
			OriginalIndex:         i,
			RequestorName:         entry.Requestor,
			IsMature:              entry.IsMature,
			HistoricalTurnCount:   snap.TurnsFor(entry.Requestor),
			AbsoluteOriginalIndex: len(p.head) + i,
		}
		if slot, ok := lastHeadSlot[entry.SingerKey()]; ok {
			in.PreviousAbsoluteIndex = &slot
		}
		out = append(out, in)
	}
	return out
}

// merge maps optimizer output back to whole-queue display positions and returns items plus the new order.
func (p queueParts) merge(planItems []optimizer.PlanItem) ([]PreviewItem, []domain.QueueEntry) {
	total := len(p.head) + len(p.tail) + len(p.rest)
	items := make([]PreviewItem, 0, total)
	order := make([]domain.QueueEntry, 0, total)

	for i, entry := range p.head {
		items = append(items, lockedItem(entry, i))
		order = append(order, entry)
	}

	byID := make(map[string]domain.QueueEntry, len(p.tail))
	for _, entry := range p.tail {
		byID[entry.ID] = entry
	}
	offset := len(p.head)
	for _, planItem := range planItems {
		entry := byID[planItem.QueueID]
		reasons := planItem.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		items = append(items, PreviewItem{
			QueueID:       entry.ID,
			Requestor:     entry.Requestor,
			SongTitle:     entry.SongTitle,
			IsMature:      entry.IsMature,
			IsDeferred:    planItem.IsDeferred,
			OriginalIndex: offset + planItem.OriginalIndex,
			DisplayIndex:  offset + planItem.ProposedIndex,
			Movement:      planItem.Movement,
			Reasons:       reasons,
		})
		order = append(order, entry)
	}

	offset += len(p.tail)
	for i, entry := range p.rest {
		items = append(items, beyondHorizonItem(entry, offset+i))
		order = append(order, entry)
	}
	return items, order
}

// unchangedItems lists the queue as it stands, for previews that produced no plan.
func (p queueParts) unchangedItems() []PreviewItem {
	items := make([]PreviewItem, 0, len(p.head)+len(p.tail)+len(p.rest))
	for i, entry := range p.head {
		items = append(items, lockedItem(entry, i))
	}
	offset := len(p.head)
	for i, entry := range p.tail {
		items = append(items, PreviewItem{
			QueueID:       entry.ID,
			Requestor:     entry.Requestor,
			SongTitle:     entry.SongTitle,
			IsMature:      entry.IsMature,
			OriginalIndex: offset + i,
			DisplayIndex:  offset + i,
			Reasons:       []string{},
		})
	}
	offset += len(p.tail)
	for i, entry := range p.rest {
		items = append(items, beyondHorizonItem(entry, offset+i))
	}
	return items
}

func lockedItem(entry domain.QueueEntry, index int) PreviewItem {
	return PreviewItem{
		QueueID:       entry.ID,
		Requestor:     entry.Requestor,
		SongTitle:     entry.SongTitle,
		IsMature:      entry.IsMature,
		IsLocked:      true,
		OriginalIndex: index,
		DisplayIndex:  index,
		Reasons:       []string{},
	}
}

func beyondHorizonItem(entry domain.QueueEntry, index int) PreviewItem {
	return PreviewItem{
		QueueID:       entry.ID,
		Requestor:     entry.Requestor,
		SongTitle:     entry.SongTitle,
		IsMature:      entry.IsMature,
		BeyondHorizon: true,
		OriginalIndex: index,
		DisplayIndex:  index,
		Reasons:       []string{},
	}
}

func entryIDs(entries []domain.QueueEntry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.ID)
	}
	return out
}
