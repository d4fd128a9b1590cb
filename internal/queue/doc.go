// Package queue implements the work-item queue that feeds the pipeline
// dispatcher: priority-ordered enqueue, exclusive dequeue, idempotent
// completion and failure with exponential-backoff redelivery. Two
// backends are provided: a durable Redis implementation and an
// in-process implementation for tests and single-process development.
package queue
