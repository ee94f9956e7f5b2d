package engine

import "errors"

var (
	// ErrValidation wraps bad caller input. It is never logged as a failure.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned for a missing note or conclusion.
	ErrNotFound = errors.New("not found")

	// ErrReasoningDisabled is returned by conclusion operations when the
	// engine was built without reasoning.
	ErrReasoningDisabled = errors.New("reasoning is not enabled")
)
