package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPlanNotFound    = errors.New("plan not found or expired")
	ErrPlanStale       = errors.New("plan is stale")
	ErrApplyFailed     = errors.New("apply failed")
	ErrVersionConflict = errors.New("queue version conflict")
)
