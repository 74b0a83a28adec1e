package optimizer

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// ctxCheckInterval is how many search steps run between cancellation and deadline checks.
const ctxCheckInterval = 256

// finalTemperature is the annealing temperature reached at the end of the iteration budget.
const finalTemperature = 0.5

// searchResult is the best arrangement one search produced.
type searchResult struct {
	order      []int
	cost       int64
	iterations int
	timedOut   bool
}

// budget bounds one search by wall clock and iteration count.
type budget struct {
	deadline      time.Time
	now           func() time.Time
	maxIterations int
}

// expired reports whether the wall-clock part of the budget is spent.
func (b budget) expired() bool {
	return !b.deadline.IsZero() && !b.now().Before(b.deadline)
}

// seedOrder returns a feasible starting order: the original order when it already satisfies the hard
// constraints, otherwise an earliest-deadline-first assignment. ok is false when no permutation exists.
func seedOrder(m *model) ([]int, bool) {
	identity := make([]int, m.n)
	copy(identity, m.originalPerm)
	if m.feasible(positionsFromOrder(identity)) {
		return identity, true
	}

	order := make([]int, 0, m.n)
	used := make([]bool, m.n)
	for p := 0; p < m.n; p++ {
		best := -1
		for i := 0; i < m.n; i++ {
			if used[i] || m.lo[i] > p {
				continue
			}
			if best == -1 || m.hi[i] < m.hi[best] || (m.hi[i] == m.hi[best] && m.orig[i] < m.orig[best]) {
				best = i
			}
		}
		if best == -1 || m.hi[best] < p {
			return nil, false
		}
		used[best] = true
		order = append(order, best)
	}
	return order, true
}

// exactSearch enumerates every feasible permutation with bound pruning. Only strictly cheaper orders
// replace the incumbent, so the seed wins ties.
func exactSearch(ctx context.Context, m *model, seed []int, b budget) (searchResult, error) {
	best := searchResult{order: append([]int(nil), seed...)}
	best.cost = m.cost(positionsFromOrder(seed))

	pos := make([]int, m.n)
	used := make([]bool, m.n)
	order := make([]int, 0, m.n)
	var walkErr error

	var walk func(p int, partial int64) bool
	walk = func(p int, partial int64) bool {
		best.iterations++
		if best.iterations%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				walkErr = err
				return false
			}
			if b.expired() {
				best.timedOut = true
				return false
			}
		}
		if p == m.n {
			if total := m.cost(pos); total < best.cost {
				best.cost = total
				best.order = append(best.order[:0], order...)
			}
			return true
		}
		for _, i := range m.originalPerm {
			if used[i] || !m.allowed(i, p) {
				continue
			}
			next := partial + m.independentCost(i, p)
			if next >= best.cost {
				continue
			}
			used[i] = true
			pos[i] = p
			order = append(order, i)
			cont := walk(p+1, next)
			order = order[:len(order)-1]
			used[i] = false
			if !cont {
				return false
			}
		}
		return true
	}
	walk(0, 0)
	if walkErr != nil {
		return searchResult{}, walkErr
	}
	return best, nil
}

// annealChain runs one seeded simulated-annealing chain from seed and returns its best arrangement.
func annealChain(ctx context.Context, m *model, seed []int, rngSeed uint64, b budget) (searchResult, error) {
	rng := rand.New(rand.NewPCG(rngSeed, rngSeed^0x9e3779b97f4a7c15))

	order := append([]int(nil), seed...)
	pos := positionsFromOrder(order)
	current := m.cost(pos)
	best := searchResult{order: append([]int(nil), order...), cost: current}

	temp := 2 * float64(max(m.weights.Movement, 1))
	cooling := 1.0
	if b.maxIterations > 0 && temp > finalTemperature {
		cooling = math.Pow(finalTemperature/temp, 1/float64(b.maxIterations))
	}

	for iter := 0; iter < b.maxIterations; iter++ {
		best.iterations++
		if iter%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return searchResult{}, err
			}
			if b.expired() {
				best.timedOut = true
				break
			}
		}
		temp *= cooling

		a := rng.IntN(m.n)
		c := rng.IntN(m.n - 1)
		if c >= a {
			c++
		}
		var undo func()
		if rng.IntN(2) == 0 {
			if !m.allowed(order[a], c) || !m.allowed(order[c], a) {
				continue
			}
			swapPositions(order, pos, a, c)
			undo = func() { swapPositions(order, pos, a, c) }
		} else {
			if !insertAllowed(m, order, a, c) {
				continue
			}
			insertPosition(order, pos, a, c)
			undo = func() { insertPosition(order, pos, c, a) }
		}

		candidate := m.cost(pos)
		delta := candidate - current
		if delta <= 0 || rng.Float64() < math.Exp(-float64(delta)/temp) {
			current = candidate
			if current < best.cost {
				best.cost = current
				best.order = append(best.order[:0], order...)
			}
			continue
		}
		undo()
	}

	polished, err := polish(ctx, m, best.order, best.cost)
	if err != nil {
		return searchResult{}, err
	}
	best.order = polished.order
	best.cost = polished.cost
	return best, nil
}

// polishPasses caps the greedy swap sweeps run after annealing.
const polishPasses = 4

// polish applies improving pairwise swaps until none remain or the pass cap is reached.
func polish(ctx context.Context, m *model, start []int, startCost int64) (searchResult, error) {
	order := append([]int(nil), start...)
	pos := positionsFromOrder(order)
	cost := startCost
	for pass := 0; pass < polishPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return searchResult{}, err
		}
		improved := false
		for a := 0; a < m.n; a++ {
			for c := a + 1; c < m.n; c++ {
				if !m.allowed(order[a], c) || !m.allowed(order[c], a) {
					continue
				}
				swapPositions(order, pos, a, c)
				if candidate := m.cost(pos); candidate < cost {
					cost = candidate
					improved = true
					continue
				}
				swapPositions(order, pos, a, c)
			}
		}
		if !improved {
			break
		}
	}
	return searchResult{order: order, cost: cost}, nil
}

func swapPositions(order, pos []int, a, c int) {
	order[a], order[c] = order[c], order[a]
	pos[order[a]] = a
	pos[order[c]] = c
}

// insertAllowed reports whether moving the entry at position from to position to keeps every shifted entry in bounds.
func insertAllowed(m *model, order []int, from, to int) bool {
	if !m.allowed(order[from], to) {
		return false
	}
	if from < to {
		for p := from + 1; p <= to; p++ {
			if !m.allowed(order[p], p-1) {
				return false
			}
		}
		return true
	}
	for p := to; p < from; p++ {
		if !m.allowed(order[p], p+1) {
			return false
		}
	}
	return true
}

// insertPosition removes the entry at position from and reinserts it at position to.
func insertPosition(order, pos []int, from, to int) {
	moving := order[from]
	if from < to {
		copy(order[from:to], order[from+1:to+1])
	} else {
		copy(order[to+1:from+1], order[to:from])
	}
	order[to] = moving
	lo, hi := min(from, to), max(from, to)
	for p := lo; p <= hi; p++ {
		pos[order[p]] = p
	}
}
