package domain

import "errors"

var (
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidPosition     = errors.New("invalid position")
	ErrInvalidMaturePolicy = errors.New("invalid mature policy")
	ErrInvalidAuditAction  = errors.New("invalid audit action")
	ErrInvalidVersion      = errors.New("invalid version token")
)
