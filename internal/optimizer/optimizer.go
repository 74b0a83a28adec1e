package optimizer

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeBudget is used when a request carries no positive time budget.
	DefaultTimeBudget = 2 * time.Second
	defaultExactLimit = 8
	// defaultIterationsPerEntry scales the annealing budget with tail length.
	defaultIterationsPerEntry = 4000
	defaultMaxIterations      = 400_000
)

// Optimizer searches for a low-cost feasible arrangement of a queue tail.
type Optimizer struct {
	exactLimit         int
	iterationsPerEntry int
	maxIterations      int
	now                func() time.Time
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithExactLimit sets the largest tail solved by exhaustive search.
func WithExactLimit(n int) Option {
	return func(o *Optimizer) {
		if n >= 0 {
			o.exactLimit = n
		}
	}
}

// WithIterations sets the annealing iteration budget per entry and its overall ceiling.
func WithIterations(perEntry, ceiling int) Option {
	return func(o *Optimizer) {
		if perEntry > 0 {
			o.iterationsPerEntry = perEntry
		}
		if ceiling > 0 {
			o.maxIterations = ceiling
		}
	}
}

// WithClock overrides the wall clock used for time budgets.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// New constructs an Optimizer.
func New(opts ...Option) *Optimizer {
	o := &Optimizer{
		exactLimit:         defaultExactLimit,
		iterationsPerEntry: defaultIterationsPerEntry,
		maxIterations:      defaultMaxIterations,
		now:                time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Optimize proposes positions for req.Entries. Infeasibility is reported in the Result, not as an error.
// Errors are ErrInvalidRequest for malformed input or the context error when ctx ends first.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	started := o.now()

	var seed uint64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = rand.Uint64()
	}

	m := buildModel(req)
	if m.n <= 1 {
		pos := make([]int, m.n)
		for i := range pos {
			pos[i] = m.orig[i]
		}
		res := o.result(m, pos)
		res.Stats = Stats{Strategy: StrategyTrivial, Seed: seed, Elapsed: o.now().Sub(started)}
		return res, nil
	}

	start, ok := seedOrder(m)
	if !ok {
		return Result{
			Warnings: []Warning{{
				Code:    WarningSolverInfeasible,
				Message: "no arrangement satisfies the movement cap and mature deferral together",
			}},
			Stats: Stats{Strategy: o.strategyFor(m.n), Seed: seed, Elapsed: o.now().Sub(started)},
		}, nil
	}

	timeBudget := req.TimeBudget
	if timeBudget <= 0 {
		timeBudget = DefaultTimeBudget
	}
	b := budget{
		deadline:      started.Add(timeBudget),
		now:           o.now,
		maxIterations: min(o.iterationsPerEntry*m.n, o.maxIterations),
	}

	var (
		best searchResult
		err  error
	)
	strategy := o.strategyFor(m.n)
	if strategy == StrategyExact {
		best, err = exactSearch(ctx, m, start, b)
	} else {
		best, err = o.anneal(ctx, m, start, seed, max(req.Workers, 1), b)
	}
	if err != nil {
		return Result{}, err
	}

	res := o.result(m, positionsFromOrder(best.order))
	res.Objective = best.cost
	res.Stats = Stats{
		Strategy:   strategy,
		Seed:       seed,
		Iterations: best.iterations,
		Elapsed:    o.now().Sub(started),
		TimedOut:   best.timedOut,
	}
	if best.timedOut {
		res.Warnings = append(res.Warnings, Warning{
			Code:    WarningSolverTimeLimit,
			Message: "search stopped at the time budget; the plan is the best found so far",
		})
	}
	return res, nil
}

func (o *Optimizer) strategyFor(n int) string {
	switch {
	case n <= 1:
		return StrategyTrivial
	case n <= o.exactLimit:
		return StrategyExact
	default:
		return StrategyAnneal
	}
}

// anneal runs one chain per worker with seeds seed, seed+1, ... and keeps the cheapest result.
// Equal costs resolve to the lowest chain index so the outcome does not depend on scheduling.
func (o *Optimizer) anneal(ctx context.Context, m *model, start []int, seed uint64, workers int, b budget) (searchResult, error) {
	results := make([]searchResult, workers)
	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < workers; k++ {
		g.Go(func() error {
			res, err := annealChain(gctx, m, start, seed+uint64(k), b)
			if err != nil {
				return err
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return searchResult{}, err
	}

	best := results[0]
	for _, res := range results[1:] {
		best.iterations += res.iterations
		best.timedOut = best.timedOut || res.timedOut
		if res.cost < best.cost {
			best.order, best.cost = res.order, res.cost
		}
	}
	return best, nil
}

// result assembles assignments, plan items, and warnings for a feasible arrangement.
func (o *Optimizer) result(m *model, pos []int) Result {
	assignments := make([]Assignment, m.n)
	noop := true
	for i, entry := range m.entries {
		assignments[i] = Assignment{QueueID: entry.QueueID, ProposedIndex: pos[i]}
		if pos[i] != entry.OriginalIndex {
			noop = false
		}
	}
	items, warnings := explain(m, pos)
	return Result{
		IsFeasible:  true,
		IsNoOp:      noop,
		Objective:   m.cost(pos),
		Assignments: assignments,
		PlanItems:   items,
		Warnings:    warnings,
	}
}
