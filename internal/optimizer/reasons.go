package optimizer

import (
	"fmt"
	"sort"
)

// explain builds plan items and warnings for a finished arrangement.
func explain(m *model, pos []int) ([]PlanItem, []Warning) {
	items := make([]PlanItem, 0, m.n)
	relaxedPairs := 0
	for k := range m.pairs {
		if m.pairViolated(k, pos) {
			relaxedPairs++
		}
	}

	for i, entry := range m.entries {
		movement := pos[i] - entry.OriginalIndex
		item := PlanItem{
			QueueID:       entry.QueueID,
			OriginalIndex: entry.OriginalIndex,
			ProposedIndex: pos[i],
			RequestorName: entry.RequestorName,
			IsMature:      entry.IsMature,
			Movement:      movement,
			Reasons:       []string{},
		}
		switch {
		case movement < 0:
			item.Reasons = append(item.Reasons, ReasonMovedEarlier)
		case movement > 0:
			item.Reasons = append(item.Reasons, ReasonMovedLater)
			if len(m.pairsOf[i]) > 0 {
				item.Reasons = append(item.Reasons, ReasonBackToBack)
			}
		}
		if entry.IsMature && m.deferMature && pos[i] >= m.nonMature {
			item.IsDeferred = true
			item.Reasons = append(item.Reasons, ReasonMatureDeferred)
		}
		if m.spacingUnmet(i, pos) {
			item.Reasons = append(item.Reasons, ReasonSpacingUnmet)
		}
		if m.fairTarget[i] > 0 && m.fairnessShortfall(i, pos) > 0 {
			item.Reasons = append(item.Reasons, ReasonFewerTurnsFirst)
		}
		items = append(items, item)
	}
	sort.Slice(items, func(a, b int) bool { return items[a].ProposedIndex < items[b].ProposedIndex })

	var warnings []Warning
	if relaxedPairs > 0 {
		warnings = append(warnings, Warning{
			Code:    WarningSpacingRelaxed,
			Message: fmt.Sprintf("%d same-singer pair(s) could not be separated", relaxedPairs),
		})
	}
	return items, warnings
}

// spacingUnmet reports whether any same-singer or cross-round spacing target for entry i fell short.
func (m *model) spacingUnmet(i int, pos []int) bool {
	for _, k := range m.pairsOf[i] {
		if m.pairViolated(k, pos) {
			return true
		}
	}
	return m.spacingShortfall(i, pos) > 0
}
