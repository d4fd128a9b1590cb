// Package store defines the persistence interfaces consumed by the task
// pipeline, along with the shared transaction helper. Implementations
// live under internal/platform; the pipeline itself only depends on the
// interfaces, reading task snapshots and writing status updates, stage
// results, and log lines through them.
package store
