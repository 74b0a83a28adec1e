package metrics

// Recorder receives reorder-engine measurements. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordPlanCacheLookup(hit bool)
	RecordPlanCacheEviction()
	RecordPreview(outcome, strategy string, seconds float64, moveCount int)
	RecordApply(outcome string)
	RecordHTTPRequest(method, route, status string, seconds float64)
}

// Outcome labels shared by preview and apply measurements.
const (
	OutcomeOK         = "ok"
	OutcomeInfeasible = "infeasible"
	OutcomeReplayed   = "replayed"
	OutcomeStale      = "stale"
	OutcomeNotFound   = "not_found"
	OutcomeFailed     = "failed"
	OutcomeError      = "error"
)

// Nop discards every measurement.
type Nop struct{}

var _ Recorder = (*Nop)(nil)

// NewNop creates a no-op recorder.
func NewNop() *Nop {
	return &Nop{}
}

// RecordPlanCacheLookup discards the lookup.
func (n *Nop) RecordPlanCacheLookup(_ /* hit */ bool) {}

// RecordPlanCacheEviction is a no-op.
func (n *Nop) RecordPlanCacheEviction() {}

// RecordPreview discards the preview measurement.
func (n *Nop) RecordPreview(_ /* outcome */, _ /* strategy */ string, _ /* seconds */ float64, _ /* moveCount */ int) {
}

// RecordApply discards the apply outcome.
func (n *Nop) RecordApply(_ /* outcome */ string) {}

// RecordHTTPRequest discards the request measurement.
func (n *Nop) RecordHTTPRequest(_ /* method */, _ /* route */, _ /* status */ string, _ /* seconds */ float64) {
}
