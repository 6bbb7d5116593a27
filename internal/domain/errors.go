package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// General errors
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// Attempt errors
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrDuplicateAttempt = errors.New("duplicate attempt number")
)

// Resource errors
var (
	ErrResourceNotFound = errors.New("resource not found")
)

// Stage errors
var (
	ErrStageTerminal = errors.New("stage is terminal")
	ErrUnknownStage  = errors.New("unknown stage")
)
