// Package optimizer proposes fair queue positions for the reorderable tail of a karaoke queue.
//
// The optimizer is a pure function of its Request: it holds no shared state, performs no I/O, and may be
// called concurrently. It models the tail as a permutation problem:
//   - hard: every entry gets a distinct position, movement stays within the optional cap, and under the
//     defer policy every mature entry lands after every non-mature entry
//   - near-hard: consecutive songs of one singer are kept at least two slots apart for as many pairs as
//     there are other singers to interleave (never the reason a model becomes infeasible)
//   - soft: weighted movement, cross-round spacing shortfall, and round-fairness shortfall
//
// Small tails are solved exactly. Larger tails start from an earliest-deadline feasible assignment and are
// improved by seeded simulated annealing, so identical seeds produce identical plans.
package optimizer
