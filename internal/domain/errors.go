package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrInvalidStage is returned when a stage name is not one of the
	// known pipeline stages.
	ErrInvalidStage = errors.New("invalid pipeline stage")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrPrecursorMissing is returned by a stage handler when the result
	// of the preceding pipeline stage has not been persisted yet.
	ErrPrecursorMissing = errors.New("precursor stage result missing")
)
