package optimizer

import (
	"fmt"
	"sort"

	"github.com/hylla/encore/internal/domain"
)

// minSingerGap is the smallest position distance between two songs of one singer that is not back-to-back.
const minSingerGap = 2

// anchorKind selects what a cross-round spacing target is measured from.
type anchorKind int

const (
	anchorNone anchorKind = iota
	// anchorTail measures from the singer's previous occurrence inside the tail.
	anchorTail
	// anchorAbsolute measures from PreviousAbsoluteIndex in whole-queue coordinates.
	anchorAbsolute
)

// anchor is a soft cross-round spacing target for one entry.
type anchor struct {
	kind   anchorKind
	prev   int
	absIdx int
	gap    int
}

// singerPair is one enforced same-singer spacing pair (entry indices, ordered by original index).
type singerPair struct {
	first  int
	second int
}

// model is the compiled, immutable form of a Request. Entry i keeps its input index throughout.
type model struct {
	n            int
	frozen       int
	orig         []int
	lo           []int
	hi           []int
	moveUnit     []int64
	pairs        []singerPair
	pairsOf      [][]int
	anchors      []anchor
	fairTarget   []int
	nonMature    int
	deferMature  bool
	weights      Weights
	pairPenalty  int64
	distinct     int
	entries      []Entry
	singerOf     []int
	originalPerm []int
}

// validate rejects malformed requests before any model is built.
func validate(req Request) error {
	n := len(req.Entries)
	seenID := make(map[string]struct{}, n)
	seenIdx := make([]bool, n)
	for i, entry := range req.Entries {
		if entry.QueueID == "" {
			return fmt.Errorf("%w: entries[%d] has empty queue id", ErrInvalidRequest, i)
		}
		if _, ok := seenID[entry.QueueID]; ok {
			return fmt.Errorf("%w: duplicate queue id %q", ErrInvalidRequest, entry.QueueID)
		}
		seenID[entry.QueueID] = struct{}{}
		if entry.OriginalIndex < 0 || entry.OriginalIndex >= n || seenIdx[entry.OriginalIndex] {
			return fmt.Errorf("%w: original indices must be a permutation of [0,%d), got %d for %q", ErrInvalidRequest, n, entry.OriginalIndex, entry.QueueID)
		}
		seenIdx[entry.OriginalIndex] = true
		if entry.HistoricalTurnCount < 0 {
			return fmt.Errorf("%w: negative turn count for %q", ErrInvalidRequest, entry.QueueID)
		}
	}
	if req.MovementCap != nil && *req.MovementCap < 0 {
		return fmt.Errorf("%w: movement cap must be >= 0", ErrInvalidRequest)
	}
	if req.FrozenHeadCount < 0 {
		return fmt.Errorf("%w: frozen head count must be >= 0", ErrInvalidRequest)
	}
	switch req.MaturePolicy {
	case domain.MaturePolicyDefer, domain.MaturePolicyAllow, "":
	default:
		return fmt.Errorf("%w: %w", ErrInvalidRequest, domain.ErrInvalidMaturePolicy)
	}
	return nil
}

// buildModel compiles constraints and objective coefficients for a validated request.
func buildModel(req Request) *model {
	n := len(req.Entries)
	w := req.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	m := &model{
		n:           n,
		frozen:      req.FrozenHeadCount,
		orig:        make([]int, n),
		lo:          make([]int, n),
		hi:          make([]int, n),
		moveUnit:    make([]int64, n),
		pairsOf:     make([][]int, n),
		anchors:     make([]anchor, n),
		fairTarget:  make([]int, n),
		deferMature: req.MaturePolicy == domain.MaturePolicyDefer,
		weights:     w,
		entries:     req.Entries,
		singerOf:    make([]int, n),
	}

	singerIndex := map[string]int{}
	var occurrences [][]int
	for i, entry := range req.Entries {
		m.orig[i] = entry.OriginalIndex
		m.moveUnit[i] = w.Movement * int64(1+entry.HistoricalTurnCount)
		if !entry.IsMature {
			m.nonMature++
		}
		key := domain.SingerKey(entry.RequestorName)
		idx, ok := singerIndex[key]
		if !ok {
			idx = len(occurrences)
			singerIndex[key] = idx
			occurrences = append(occurrences, nil)
		}
		m.singerOf[i] = idx
		occurrences[idx] = append(occurrences[idx], i)
	}
	m.distinct = len(occurrences)

	m.originalPerm = make([]int, n)
	for i := range req.Entries {
		m.originalPerm[m.orig[i]] = i
	}

	for i, entry := range req.Entries {
		lo, hi := 0, n-1
		if m.deferMature && m.nonMature > 0 && m.nonMature < n {
			if entry.IsMature {
				lo = m.nonMature
			} else {
				hi = m.nonMature - 1
			}
		}
		if req.MovementCap != nil {
			lo = max(lo, entry.OriginalIndex-*req.MovementCap)
			hi = min(hi, entry.OriginalIndex+*req.MovementCap)
		}
		m.lo[i] = lo
		m.hi[i] = hi
	}

	for _, occ := range occurrences {
		sort.Slice(occ, func(a, b int) bool { return m.orig[occ[a]] < m.orig[occ[b]] })
		enforceable := min(m.distinct-1, len(occ)-1)
		for j := 0; j < enforceable; j++ {
			pairIdx := len(m.pairs)
			m.pairs = append(m.pairs, singerPair{first: occ[j], second: occ[j+1]})
			m.pairsOf[occ[j]] = append(m.pairsOf[occ[j]], pairIdx)
			m.pairsOf[occ[j+1]] = append(m.pairsOf[occ[j+1]], pairIdx)
		}
		for j, i := range occ {
			turns := req.Entries[i].HistoricalTurnCount
			gap := min(turns+2, max(minSingerGap, m.distinct))
			switch {
			case j > 0 && turns > 0:
				m.anchors[i] = anchor{kind: anchorTail, prev: occ[j-1], gap: gap}
			case j == 0 && req.Entries[i].PreviousAbsoluteIndex != nil:
				m.anchors[i] = anchor{kind: anchorAbsolute, absIdx: *req.Entries[i].PreviousAbsoluteIndex, gap: gap}
			}
		}
	}

	for i, entry := range req.Entries {
		if entry.HistoricalTurnCount > 0 {
			m.fairTarget[i] = min(entry.HistoricalTurnCount*m.distinct, n-1)
		}
	}

	m.pairPenalty = m.softUpperBound() + 1
	return m
}

// softUpperBound bounds the soft objective so one violated singer pair outweighs any soft trade-off.
func (m *model) softUpperBound() int64 {
	var bound int64
	span := int64(max(m.n-1, 0))
	for i := 0; i < m.n; i++ {
		bound += m.moveUnit[i] * span
		bound += m.weights.Fairness * int64(m.fairTarget[i])
		if m.anchors[i].kind != anchorNone {
			bound += m.weights.Spacing * int64(m.anchors[i].gap+m.n+m.frozen)
		}
	}
	return bound
}

// allowed reports whether entry i may occupy position p.
func (m *model) allowed(i, p int) bool {
	return p >= m.lo[i] && p <= m.hi[i]
}

// spacingShortfall returns how many slots entry i falls short of its cross-round target.
func (m *model) spacingShortfall(i int, pos []int) int {
	a := m.anchors[i]
	switch a.kind {
	case anchorTail:
		return max(0, a.gap-(pos[i]-pos[a.prev]))
	case anchorAbsolute:
		return max(0, a.gap-(m.frozen+pos[i]-a.absIdx))
	default:
		return 0
	}
}

// fairnessShortfall returns how many slots entry i sits ahead of its round-fairness target.
func (m *model) fairnessShortfall(i int, pos []int) int {
	return max(0, m.fairTarget[i]-pos[i])
}

// pairViolated reports whether an enforced same-singer pair is back-to-back.
func (m *model) pairViolated(pairIdx int, pos []int) bool {
	p := m.pairs[pairIdx]
	d := pos[p.first] - pos[p.second]
	if d < 0 {
		d = -d
	}
	return d < minSingerGap
}

// independentCost is the part of the objective that depends only on entry i's own position.
func (m *model) independentCost(i, p int) int64 {
	d := p - m.orig[i]
	if d < 0 {
		d = -d
	}
	return m.moveUnit[i]*int64(d) + m.weights.Fairness*int64(max(0, m.fairTarget[i]-p))
}

// cost evaluates the full objective for a complete position vector.
func (m *model) cost(pos []int) int64 {
	var total int64
	for i := 0; i < m.n; i++ {
		total += m.independentCost(i, pos[i])
		total += m.weights.Spacing * int64(m.spacingShortfall(i, pos))
	}
	for k := range m.pairs {
		if m.pairViolated(k, pos) {
			total += m.pairPenalty
		}
	}
	return total
}

// feasible reports whether every entry sits inside its hard bounds.
func (m *model) feasible(pos []int) bool {
	for i := 0; i < m.n; i++ {
		if !m.allowed(i, pos[i]) {
			return false
		}
	}
	return true
}

// positionsFromOrder converts order[position] = entry into pos[entry] = position.
func positionsFromOrder(order []int) []int {
	pos := make([]int, len(order))
	for p, i := range order {
		pos[i] = p
	}
	return pos
}
