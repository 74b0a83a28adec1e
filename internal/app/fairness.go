package app

import "github.com/hylla/encore/internal/domain"

// FairnessMetrics scores a queue ordering; lower is fairer.
type FairnessMetrics struct {
	// AdjacentRepeats counts neighbouring entries sung by the same singer.
	AdjacentRepeats int `json:"adjacent_repeats"`
	// RotationInversions counts entry pairs where a singer on a later turn is ahead of one on an earlier turn.
	RotationInversions int `json:"rotation_inversions"`
}

// fairnessOf scores order using each singer's sung turns plus their earlier occurrences in the queue.
func fairnessOf(order []domain.QueueEntry, snap domain.QueueSnapshot) FairnessMetrics {
	var out FairnessMetrics
	turnNumber := make([]int, len(order))
	seen := make(map[string]int, len(order))
	for i, entry := range order {
		key := entry.SingerKey()
		turnNumber[i] = snap.TurnsFor(entry.Requestor) + seen[key]
		seen[key]++
		if i > 0 && order[i-1].SingerKey() == key {
			out.AdjacentRepeats++
		}
	}
	for i := range turnNumber {
		for j := i + 1; j < len(turnNumber); j++ {
			if turnNumber[i] > turnNumber[j] {
				out.RotationInversions++
			}
		}
	}
	return out
}
