package optimizer

import (
	"errors"
	"time"

	"github.com/hylla/encore/internal/domain"
)

// Warning codes reported in Result.Warnings.
const (
	WarningSolverInfeasible = "SOLVER_INFEASIBLE"
	WarningSolverTimeLimit  = "SOLVER_TIME_LIMIT"
	WarningSpacingRelaxed   = "SPACING_RELAXED"
)

// Reason strings attached to plan items.
const (
	ReasonMovedEarlier    = "moved earlier to improve rotation balance"
	ReasonMovedLater      = "moved later to balance wait times"
	ReasonBackToBack      = "moved later to avoid back-to-back turns for the same singer"
	ReasonMatureDeferred  = "deferred due to mature content policy"
	ReasonSpacingUnmet    = "unable to fully separate this singer due to current queue constraints"
	ReasonFewerTurnsFirst = "moved later to allow singers with fewer turns to go first"
)

// Strategy names reported in Stats.
const (
	StrategyTrivial = "trivial"
	StrategyExact   = "exact"
	StrategyAnneal  = "anneal"
)

// ErrInvalidRequest reports malformed optimizer input. It signals a caller bug, not a runtime condition.
var ErrInvalidRequest = errors.New("invalid optimizer request")

// Entry is one reorderable queue entry as seen by the optimizer.
type Entry struct {
	QueueID               string
	OriginalIndex         int
	RequestorName         string
	IsMature              bool
	HistoricalTurnCount   int
	AbsoluteOriginalIndex int
	// PreviousAbsoluteIndex is the singer's last absolute slot before this tail, when known.
	PreviousAbsoluteIndex *int
}

// Weights scale the objective terms. Their magnitudes must keep movement < spacing < fairness per unit.
type Weights struct {
	Movement int64
	Spacing  int64
	Fairness int64
}

// DefaultWeights returns the production objective weights.
func DefaultWeights() Weights {
	return Weights{Movement: 100, Spacing: 250, Fairness: 1000}
}

// Request is one optimization call.
type Request struct {
	Entries         []Entry
	MaturePolicy    domain.MaturePolicy
	MovementCap     *int
	TimeBudget      time.Duration
	Seed            *uint64
	Workers         int
	FrozenHeadCount int
	Weights         Weights
}

// Assignment maps one queue entry to its proposed index within the tail.
type Assignment struct {
	QueueID       string `json:"queue_id"`
	ProposedIndex int    `json:"proposed_index"`
}

// PlanItem is the explainable form of an Assignment.
type PlanItem struct {
	QueueID       string   `json:"queue_id"`
	OriginalIndex int      `json:"original_index"`
	ProposedIndex int      `json:"proposed_index"`
	RequestorName string   `json:"requestor_name"`
	IsMature      bool     `json:"is_mature"`
	IsDeferred    bool     `json:"is_deferred"`
	Movement      int      `json:"movement"`
	Reasons       []string `json:"reasons"`
}

// Warning is a non-fatal condition surfaced to the operator.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stats describes how a result was produced.
type Stats struct {
	Strategy   string
	Seed       uint64
	Iterations int
	Elapsed    time.Duration
	TimedOut   bool
}

// Result is the optimizer output. Assignments follow input order; PlanItems follow proposed order.
type Result struct {
	IsFeasible  bool
	IsNoOp      bool
	Objective   int64
	Assignments []Assignment
	PlanItems   []PlanItem
	Warnings    []Warning
	Stats       Stats
}
