package gemini

import "errors"

// Generation error taxonomy. Transient failures are retried with
// backoff; the rest are returned to the caller immediately.
var (
	// ErrInvalidConfig indicates the generator was constructed with
	// missing or invalid configuration.
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrInvalidResponse indicates the model returned a response that
	// could not be used (empty, no candidates, or not valid JSON).
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrContentBlocked indicates the model refused the prompt on
	// safety grounds.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrTransientFailure indicates a retriable API failure that
	// persisted past the retry budget.
	ErrTransientFailure = errors.New("transient generation failure")
)
